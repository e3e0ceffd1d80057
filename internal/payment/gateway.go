package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/payment-core/internal/obs"
)

// Gateway is the façade the rest of the application calls. It holds exactly
// one active provider, selected at construction, runs validation before any
// provider call, and normalises every outcome into a PaymentResult.
type Gateway struct {
	provider Provider
	store    IntentStore
	orders   OrderNotifier
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewGateway constructs a gateway around the given provider. Store and orders
// may be nil for callers that manage intent state themselves.
func NewGateway(provider Provider, store IntentStore, orders OrderNotifier, logger zerolog.Logger, timeout time.Duration) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("payment: provider is required")
	}
	return &Gateway{
		provider: provider,
		store:    store,
		orders:   orders,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

// ProviderName reports the active provider selection.
func (g *Gateway) ProviderName() string { return g.provider.Name() }

// CreatePaymentIntent delegates intent creation to the active provider and
// records the result in the intent store.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, amount float64, currency string, customer *Customer, metadata map[string]string) (PaymentIntent, error) {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "PaymentGateway.CreatePaymentIntent")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", g.provider.Name()),
			attribute.String("payment.intent.result", result),
		)
		if obs.PaymentIntentTotal != nil {
			obs.PaymentIntentTotal.WithLabelValues(g.provider.Name(), result).Inc()
		}
	}()

	if amount <= 0 {
		return PaymentIntent{}, errors.New("payment: amount must be positive")
	}
	if len(strings.TrimSpace(currency)) != 3 {
		return PaymentIntent{}, errors.New("payment: currency must be a 3-letter ISO code")
	}

	intent, err := g.provider.CreateIntent(ctx, IntentRequest{
		Amount:   amount,
		Currency: currency,
		Customer: customer,
		Metadata: metadata,
	})
	if err != nil {
		span.RecordError(err)
		return PaymentIntent{}, err
	}
	if g.store != nil {
		if err := g.store.Put(ctx, intent); err != nil {
			span.RecordError(err)
			return PaymentIntent{}, err
		}
	}
	result = "success"
	span.SetAttributes(attribute.String("payment.intent.id", intent.ID))
	return intent, nil
}

// ProcessPayment validates the request, delegates to the active provider and
// returns the normalised result. Validation failures never reach the
// provider; provider panics never reach the caller.
func (g *Gateway) ProcessPayment(ctx context.Context, data PaymentData) PaymentResult {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "PaymentGateway.ProcessPayment")
	defer span.End()

	start := time.Now()
	result := PaymentResult{}
	defer func() {
		label := "success"
		if !result.Success && result.Error != nil {
			label = string(result.Error.Type)
		}
		span.SetAttributes(
			attribute.String("payment.provider", g.provider.Name()),
			attribute.String("payment.process.result", label),
			attribute.Float64("payment.process.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if obs.PaymentProcessTotal != nil {
			obs.PaymentProcessTotal.WithLabelValues(g.provider.Name(), label).Inc()
		}
		if obs.PaymentProcessDuration != nil {
			obs.PaymentProcessDuration.WithLabelValues(g.provider.Name()).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	if verr := Validate(data); verr != nil {
		result = PaymentResult{Success: false, Error: verr}
		return result
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	result = g.processSafely(callCtx, data)
	if !result.Success && result.Error == nil {
		// Adapters are required to attach an error; guard against a broken one.
		result.Error = &ResultError{
			Code:    "api_error",
			Message: "The provider returned an unclassified failure.",
			Type:    ErrTypeAPI,
		}
	}
	g.recordOutcome(ctx, data, result)
	return result
}

// processSafely converts adapter panics into api_error results so internal
// faults never escape to the caller unhandled.
func (g *Gateway) processSafely(ctx context.Context, data PaymentData) (result PaymentResult) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error().
				Str("provider", g.provider.Name()).
				Interface("panic", rec).
				Msg("provider panicked during payment processing")
			result = PaymentResult{
				Success: false,
				Error: &ResultError{
					Code:    "api_error",
					Message: "An internal provider fault occurred.",
					Type:    ErrTypeAPI,
				},
			}
		}
	}()
	return g.provider.ProcessPayment(ctx, data)
}

// recordOutcome updates the stored intent and informs the order collaborator
// after a synchronous process attempt.
func (g *Gateway) recordOutcome(ctx context.Context, data PaymentData, result PaymentResult) {
	intentID := strings.TrimSpace(data.IntentID)
	if result.Intent != nil && result.Intent.ID != "" {
		intentID = result.Intent.ID
	}
	if intentID == "" {
		return
	}

	status := StatusProcessing
	if g.store != nil {
		existing, err := g.store.Get(ctx, intentID)
		switch {
		case err == nil:
			status = existing.Status
			updated := existing
			if result.Success && existing.Status.CanTransitionTo(StatusSucceeded) {
				updated.Status = StatusSucceeded
			}
			if !result.Success {
				updated.LastError = result.Error
			}
			if err := g.store.Put(ctx, updated); err != nil {
				g.logger.Error().Err(err).Str("intent_id", intentID).Msg("update intent after processing")
			}
			status = updated.Status
		case errors.Is(err, ErrIntentNotFound) && result.Intent != nil:
			if err := g.store.Put(ctx, *result.Intent); err != nil {
				g.logger.Error().Err(err).Str("intent_id", intentID).Msg("store intent after processing")
			}
			status = result.Intent.Status
		default:
			g.logger.Error().Err(err).Str("intent_id", intentID).Msg("load intent after processing")
		}
	} else if result.Intent != nil {
		status = result.Intent.Status
	}

	if g.orders == nil {
		return
	}
	if err := g.orders.UpdateOrderStatus(ctx, intentID, status, result.Error); err != nil {
		g.logger.Error().Err(err).Str("intent_id", intentID).Msg("notify order collaborator")
	}
}
