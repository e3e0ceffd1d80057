package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/payment-core/internal/common"
	"github.com/noah-isme/payment-core/internal/obs"
)

// ReplayStore is the slice of Redis used to deduplicate webhook deliveries
// across processes.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Dispatcher verifies, deduplicates and applies provider webhooks, driving the
// intent state machine for outcomes that arrive asynchronously.
type Dispatcher struct {
	Providers map[string]Provider
	Store     IntentStore
	Orders    OrderNotifier
	Replay    ReplayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger

	mu           sync.Mutex
	applied      map[string]struct{}
	appliedOrder []string
}

// maxAppliedEntries bounds the in-process dedupe set. Long-lived processes
// without Redis fall back to this set alone, so it must not grow forever.
const maxAppliedEntries = 4096

// Canonical event types the dispatcher acts on. Adapters normalise
// provider-specific names into this vocabulary.
const (
	EventIntentSucceeded      = "payment_intent.succeeded"
	EventIntentPaymentFailed  = "payment_intent.payment_failed"
	EventIntentRequiresAction = "payment_intent.requires_action"
	EventDisputeCreated       = "charge.dispute.created"
)

// Handle is the HTTP entrypoint for POST /webhooks/payment/{provider}. The
// raw body and signature headers are forwarded unmodified by the router.
func (d *Dispatcher) Handle(w http.ResponseWriter, r *http.Request) {
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := d.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	ctx, span := otel.Tracer("payment.Dispatcher").Start(r.Context(), "WebhookDispatcher.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", providerKey))

	// Step 1: signature verification, fail closed.
	verification, err := provider.VerifyWebhook(r, body)
	if err != nil || !verification.Valid {
		reason := "signature verification failed"
		if verification.Err != nil {
			reason = verification.Err.Error()
		}
		d.Logger.Warn().Str("provider", providerKey).Str("reason", reason).Msg("webhook rejected")
		d.count(providerKey, "invalid_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	event := verification.Event

	// Step 2: cross-process replay dedupe when Redis is configured.
	var dedupeKey string
	if d.Replay != nil && d.ReplayTTL > 0 {
		dedupeKey = fmt.Sprintf("wh:%s:%s", providerKey, d.eventKey(event, body))
		fresh, err := d.Replay.SetNX(ctx, dedupeKey, "1", d.ReplayTTL).Result()
		if err != nil {
			d.count(providerKey, "error")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			d.count(providerKey, "replay")
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	applied, err := d.Apply(ctx, event)
	switch {
	case errors.Is(err, ErrIntentNotFound):
		d.releaseDedupe(ctx, dedupeKey)
		d.count(providerKey, "not_found")
		common.JSONError(w, http.StatusNotFound, "INTENT_NOT_FOUND", "no intent for webhook target", nil)
		return
	case err != nil:
		span.RecordError(err)
		d.releaseDedupe(ctx, dedupeKey)
		d.count(providerKey, "error")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_APPLY_ERROR", err.Error(), nil)
		return
	}
	if applied {
		d.count(providerKey, "applied")
	} else {
		d.count(providerKey, "ignored")
	}
	common.JSON(w, http.StatusOK, map[string]any{"received": true})
}

// Apply routes a verified event through the intent state machine. It is
// idempotent: a replayed event, or one whose target already sits in the
// matching terminal state, is a no-op that still acks. The order collaborator
// hook fires at most once per event.
func (d *Dispatcher) Apply(ctx context.Context, event WebhookEvent) (bool, error) {
	switch event.Type {
	case EventIntentSucceeded, EventIntentPaymentFailed, EventIntentRequiresAction:
		return d.applyStatus(ctx, event)
	case EventDisputeCreated:
		return d.applyDispute(ctx, event)
	default:
		// Unknown events are acknowledged but otherwise ignored.
		d.Logger.Info().
			Str("provider", event.Provider).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("unknown webhook event ignored")
		return false, nil
	}
}

func (d *Dispatcher) applyStatus(ctx context.Context, event WebhookEvent) (bool, error) {
	if d.Store == nil {
		return false, errors.New("payment: intent store not configured")
	}
	target := eventTargetStatus(event.Type)
	intentID := strings.TrimSpace(event.IntentID)
	if intentID == "" {
		return false, fmt.Errorf("payment: event %s carries no intent id", event.Type)
	}

	// Serialise check-and-transition so concurrent deliveries of the same
	// event cannot double-trigger the order hook.
	d.mu.Lock()
	defer d.mu.Unlock()

	idemKey := event.ID
	if idemKey == "" {
		idemKey = intentID + ":" + string(target)
	}
	if _, seen := d.applied[idemKey]; seen {
		return false, nil
	}

	intent, err := d.Store.Get(ctx, intentID)
	if err != nil {
		return false, err
	}
	if intent.Status == target {
		// Idempotent replay of an already-applied outcome.
		d.markApplied(idemKey)
		return false, nil
	}
	if !intent.Status.CanTransitionTo(target) {
		d.Logger.Warn().
			Str("intent_id", intentID).
			Str("from", string(intent.Status)).
			Str("to", string(target)).
			Msg("webhook transition rejected by state machine")
		return false, nil
	}

	intent.Status = target
	var detail *ResultError
	if event.Type == EventIntentPaymentFailed {
		message := event.Message
		if message == "" {
			message = "The payment failed."
		}
		detail = &ResultError{Code: "payment_failed", Message: message, Type: ErrTypeCard}
		intent.LastError = detail
	}
	if err := d.Store.Put(ctx, intent); err != nil {
		return false, err
	}
	d.markApplied(idemKey)

	if d.Orders != nil {
		if err := d.Orders.UpdateOrderStatus(ctx, intentID, target, detail); err != nil {
			d.Logger.Error().Err(err).Str("intent_id", intentID).Msg("notify order collaborator")
		}
	}
	return true, nil
}

func (d *Dispatcher) applyDispute(ctx context.Context, event WebhookEvent) (bool, error) {
	chargeID := strings.TrimSpace(event.ChargeID)
	if chargeID == "" {
		chargeID = strings.TrimSpace(event.IntentID)
	}
	if chargeID == "" {
		return false, errors.New("payment: dispute event carries no charge id")
	}
	if d.Orders != nil {
		details := map[string]any{
			"provider": event.Provider,
			"eventId":  event.ID,
		}
		if event.IntentID != "" {
			details["intentId"] = event.IntentID
		}
		if err := d.Orders.NotifyDispute(ctx, chargeID, details); err != nil {
			return false, err
		}
	}
	return true, nil
}

// markApplied records an event key in the in-process dedupe set, evicting the
// oldest entries once the set is full. Callers hold d.mu.
func (d *Dispatcher) markApplied(key string) {
	if d.applied == nil {
		d.applied = make(map[string]struct{})
	}
	if _, ok := d.applied[key]; ok {
		return
	}
	d.applied[key] = struct{}{}
	d.appliedOrder = append(d.appliedOrder, key)
	for len(d.appliedOrder) > maxAppliedEntries {
		oldest := d.appliedOrder[0]
		d.appliedOrder = d.appliedOrder[1:]
		delete(d.applied, oldest)
	}
}

// releaseDedupe frees the Redis replay key after a failed apply. The provider
// will retry the delivery and it must not be swallowed as a duplicate.
func (d *Dispatcher) releaseDedupe(ctx context.Context, key string) {
	if d.Replay == nil || key == "" {
		return
	}
	if err := d.Replay.Del(ctx, key).Err(); err != nil {
		d.Logger.Error().Err(err).Str("key", key).Msg("release webhook replay key")
	}
}

// eventKey picks the most stable idempotency key available for dedupe: the
// provider event id, falling back to a hash of the raw payload.
func (d *Dispatcher) eventKey(event WebhookEvent, body []byte) string {
	if event.ID != "" {
		return event.ID
	}
	return common.Sha256Hex(string(body))
}

func (d *Dispatcher) count(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func eventTargetStatus(eventType string) IntentStatus {
	switch eventType {
	case EventIntentSucceeded:
		return StatusSucceeded
	case EventIntentPaymentFailed:
		return StatusCanceled
	case EventIntentRequiresAction:
		return StatusRequiresConfirmation
	default:
		return ""
	}
}
