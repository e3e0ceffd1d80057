package payment_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-core/internal/payment"
)

type fakeReplayStore struct {
	results []bool
	err     error
	deleted []string
}

func (f *fakeReplayStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if len(f.results) == 0 {
		return redis.NewBoolResult(true, f.err)
	}
	res := f.results[0]
	f.results = f.results[1:]
	return redis.NewBoolResult(res, f.err)
}

func (f *fakeReplayStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.deleted = append(f.deleted, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

const testWebhookSecret = "whsec_test"

func testProviders() map[string]payment.Provider {
	return map[string]payment.Provider{
		"mock": payment.NewMock(payment.MockConfig{
			MinLatency:    time.Millisecond,
			MaxLatency:    time.Millisecond,
			WebhookSecret: testWebhookSecret,
		}, nil),
		"stripe": payment.Stripe{WebhookSecret: testWebhookSecret},
		"paypal": payment.PayPal{WebhookSecret: testWebhookSecret},
		"square": payment.Square{WebhookSecret: testWebhookSecret, NotificationURL: "https://example.com/hooks"},
	}
}

func newDispatcher(store payment.IntentStore, orders payment.OrderNotifier, replay payment.ReplayStore) *payment.Dispatcher {
	d := &payment.Dispatcher{
		Providers: testProviders(),
		Store:     store,
		Orders:    orders,
		Logger:    zerolog.Nop(),
	}
	if replay != nil {
		d.Replay = replay
		d.ReplayTTL = time.Minute
	}
	return d
}

func webhookRequest(provider string, body []byte, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/"+provider, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", provider)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func hexHMAC(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func mockEventBody(eventID, eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q}}}`, eventID, eventType, intentID))
}

func signedMockHeaders(body []byte) map[string]string {
	return map[string]string{"Mock-Signature": hexHMAC(testWebhookSecret, body)}
}

func seedIntent(t *testing.T, store payment.IntentStore, id string, status payment.IntentStatus) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), payment.PaymentIntent{
		ID:       id,
		Amount:   49.99,
		Currency: "USD",
		Status:   status,
	}))
}

func TestWebhookRejectsMissingSignatureForEveryProvider(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")

	for provider := range testProviders() {
		rr := httptest.NewRecorder()
		d.Handle(rr, webhookRequest(provider, body, nil))
		require.Equalf(t, http.StatusUnauthorized, rr.Code, "provider %s must fail closed", provider)
	}
}

func TestWebhookRejectsTamperedSignatures(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	squareMAC := hmac.New(sha256.New, []byte(testWebhookSecret))
	squareMAC.Write([]byte("https://example.com/hooks"))
	squareMAC.Write(body)

	headers := map[string]map[string]string{
		"mock": {"Mock-Signature": hexHMAC("wrong-secret", body)},
		"stripe": {"Stripe-Signature": fmt.Sprintf("t=%s,v1=%s", ts,
			hexHMAC("wrong-secret", []byte(ts), []byte("."), body))},
		"paypal": {
			"Paypal-Transmission-Id":   "tid-1",
			"Paypal-Transmission-Time": ts,
			"Paypal-Transmission-Sig":  hexHMAC("wrong-secret", []byte("tid-1|"+ts+"|"), body),
		},
		"square": {"x-square-hmacsha256-signature": base64.StdEncoding.EncodeToString([]byte("bogus"))},
	}
	for provider, hdrs := range headers {
		rr := httptest.NewRecorder()
		d.Handle(rr, webhookRequest(provider, body, hdrs))
		require.Equalf(t, http.StatusUnauthorized, rr.Code, "provider %s must reject tampered signature", provider)
	}
}

func TestWebhookAcceptsValidStripeSignature(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_stripe_1", payment.StatusProcessing)

	body := mockEventBody("evt_s1", "payment_intent.succeeded", "pi_stripe_1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := hexHMAC(testWebhookSecret, []byte(ts), []byte("."), body)

	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("stripe", body, map[string]string{
		"Stripe-Signature": fmt.Sprintf("t=%s,v1=%s", ts, sig),
	}))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "pi_stripe_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, stored.Status)
}

func TestWebhookRejectsStaleStripeTimestamp(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	body := mockEventBody("evt_s2", "payment_intent.succeeded", "pi_1")
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	sig := hexHMAC(testWebhookSecret, []byte(ts), []byte("."), body)

	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("stripe", body, map[string]string{
		"Stripe-Signature": fmt.Sprintf("t=%s,v1=%s", ts, sig),
	}))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWebhookUnknownProvider(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("braintree", []byte("{}"), nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookSucceededTransitionsIntent(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, stored.Status)
	require.Equal(t, []payment.IntentStatus{payment.StatusSucceeded}, orders.statuses)
}

func TestWebhookDuplicateDeliveryAppliesOnce(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Len(t, orders.statuses, 1, "order hook must fire exactly once")
}

func TestWebhookReplayShortCircuitsViaRedis(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	replay := &fakeReplayStore{results: []bool{true, false}}
	d := newDispatcher(store, orders, replay)
	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")

	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr2 := httptest.NewRecorder()
	d.Handle(rr2, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr2.Code)
	require.Contains(t, rr2.Body.String(), "duplicate")
	require.Len(t, orders.statuses, 1)
}

func TestWebhookFailedApplyDoesNotConsumeReplayKey(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	replay := &fakeReplayStore{results: []bool{true, true}}
	d := newDispatcher(store, orders, replay)

	body := mockEventBody("evt_1", "payment_intent.succeeded", "pi_1")

	// Delivery arrives before the intent exists. The dedupe key must be
	// released so the provider's retry is not acked as a duplicate.
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, []string{"wh:mock:evt_1"}, replay.deleted)
	require.Empty(t, orders.statuses)

	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	rr2 := httptest.NewRecorder()
	d.Handle(rr2, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr2.Code)
	require.NotContains(t, rr2.Body.String(), "duplicate")

	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, stored.Status)
	require.Equal(t, []payment.IntentStatus{payment.StatusSucceeded}, orders.statuses)
}

func TestWebhookPaymentFailedRecordsError(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	body := []byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_1","last_payment_error":{"message":"card was declined"}}}}`)
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusCanceled, stored.Status)
	require.NotNil(t, stored.LastError)
	require.Equal(t, "card was declined", stored.LastError.Message)
	require.Equal(t, payment.ErrTypeCard, stored.LastError.Type)
}

func TestWebhookRequiresActionMovesBackwardIsRejected(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusProcessing)

	// requires_confirmation sits behind processing; the state machine refuses.
	body := mockEventBody("evt_3", "payment_intent.requires_action", "pi_1")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusProcessing, stored.Status)
	require.Empty(t, orders.statuses)
}

func TestWebhookRequiresActionAdvancesFreshIntent(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusRequiresPaymentMethod)

	body := mockEventBody("evt_4", "payment_intent.requires_action", "pi_1")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusRequiresConfirmation, stored.Status)
}

func TestWebhookDisputeSideChannel(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusSucceeded)

	body := []byte(`{"id":"evt_5","type":"charge.dispute.created","data":{"object":{"id":"pi_1","charge":"ch_99"}}}`)
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, []string{"ch_99"}, orders.disputes)
	stored, err := store.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	// Disputes never mutate intent status.
	require.Equal(t, payment.StatusSucceeded, stored.Status)
	require.Empty(t, orders.statuses)
}

func TestWebhookUnknownEventAcked(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	body := mockEventBody("evt_6", "customer.created", "pi_1")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookIntentNotFound(t *testing.T) {
	t.Parallel()

	d := newDispatcher(payment.NewMemoryStore(), &recordingNotifier{}, nil)
	body := mockEventBody("evt_7", "payment_intent.succeeded", "pi_missing")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookTerminalReplayIsNoOp(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "pi_1", payment.StatusSucceeded)

	body := mockEventBody("evt_8", "payment_intent.succeeded", "pi_1")
	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("mock", body, signedMockHeaders(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, orders.statuses)
}

func TestWebhookPayPalEventNormalisation(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "ORDER-1", payment.StatusRequiresConfirmation)

	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}}`)
	ts := time.Now().UTC().Format(time.RFC3339)
	sig := hexHMAC(testWebhookSecret, []byte("tid-1|"+ts+"|"), body)

	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("paypal", body, map[string]string{
		"Paypal-Transmission-Id":   "tid-1",
		"Paypal-Transmission-Time": ts,
		"Paypal-Transmission-Sig":  sig,
	}))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "ORDER-1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, stored.Status)
}

func TestWebhookSquareEventNormalisation(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	orders := &recordingNotifier{}
	d := newDispatcher(store, orders, nil)
	seedIntent(t, store, "sq_order_1", payment.StatusProcessing)

	body := []byte(`{"event_id":"sq-evt-1","type":"payment.updated","data":{"object":{"payment":{"id":"sq_pay_1","status":"COMPLETED","order_id":"sq_order_1"}}}}`)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte("https://example.com/hooks"))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	rr := httptest.NewRecorder()
	d.Handle(rr, webhookRequest("square", body, map[string]string{
		"x-square-hmacsha256-signature": sig,
	}))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := store.Get(context.Background(), "sq_order_1")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSucceeded, stored.Status)
}
