package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rand is the source of randomness for the mock provider. *rand.Rand satisfies
// it; tests inject a scripted implementation to pin outcomes.
type Rand interface {
	Float64() float64
}

// OutcomeRates defines the probability bands for simulated failures. The
// remainder of the distribution is a successful charge.
type OutcomeRates struct {
	Decline           float64
	InsufficientFunds float64
	AuthRequired      float64
}

// DefaultOutcomeRates mirrors the development defaults: 5% declined, 3%
// insufficient funds, 2% step-up authentication.
func DefaultOutcomeRates() OutcomeRates {
	return OutcomeRates{Decline: 0.05, InsufficientFunds: 0.03, AuthRequired: 0.02}
}

// MockConfig tunes the simulated latency window and outcome distribution.
type MockConfig struct {
	MinLatency    time.Duration
	MaxLatency    time.Duration
	Rates         OutcomeRates
	WebhookSecret string
}

// Mock simulates a payment provider without any network calls. It is the
// active provider in development and CI.
type Mock struct {
	cfg MockConfig

	mu  sync.Mutex
	rng Rand
}

// NewMock builds a mock provider. A nil rng falls back to a time-seeded
// source; latency defaults to the 1.5s-3.5s window.
func NewMock(cfg MockConfig, rng Rand) *Mock {
	if cfg.MinLatency <= 0 {
		cfg.MinLatency = 1500 * time.Millisecond
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = 3500 * time.Millisecond
	}
	zero := OutcomeRates{}
	if cfg.Rates == zero {
		cfg.Rates = DefaultOutcomeRates()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Mock{cfg: cfg, rng: rng}
}

func (m *Mock) Name() string { return "mock" }

// CreateIntent allocates an in-memory intent with a mock-namespaced id.
func (m *Mock) CreateIntent(_ context.Context, req IntentRequest) (PaymentIntent, error) {
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("amount must be positive")
	}
	id := "pi_mock_" + m.opaqueID()
	return PaymentIntent{
		ID:           id,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		Status:       StatusRequiresPaymentMethod,
		ClientSecret: id + "_secret_" + m.opaqueID(),
		Metadata:     req.Metadata,
		CreatedAt:    time.Now(),
	}, nil
}

// ProcessPayment sleeps for a sampled latency, then draws one uniform value
// against the configured outcome bands. The sleep is cancelable: a caller
// timeout surfaces as an api_error instead of a leaked goroutine.
func (m *Mock) ProcessPayment(ctx context.Context, data PaymentData) PaymentResult {
	timer := time.NewTimer(m.latency())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return PaymentResult{
			Success: false,
			Error: &ResultError{
				Code:    "request_timeout",
				Message: "payment processing was canceled before completion",
				Type:    ErrTypeAPI,
			},
		}
	case <-timer.C:
	}

	roll := m.draw()
	rates := m.cfg.Rates
	switch {
	case roll < rates.Decline:
		return PaymentResult{
			Success: false,
			Error: &ResultError{
				Code:    "card_declined",
				Message: "Your card was declined.",
				Type:    ErrTypeCard,
			},
		}
	case roll < rates.Decline+rates.InsufficientFunds:
		return PaymentResult{
			Success: false,
			Error: &ResultError{
				Code:    "insufficient_funds",
				Message: "Your card has insufficient funds.",
				Type:    ErrTypeCard,
			},
		}
	case roll < rates.Decline+rates.InsufficientFunds+rates.AuthRequired:
		return PaymentResult{
			Success:        false,
			RequiresAction: true,
			NextAction: &NextAction{
				Type:          ActionRedirectToURL,
				RedirectToURL: "/payments/3d-secure-mock",
			},
			Error: &ResultError{
				Code:    "authentication_required",
				Message: "Additional authentication is required to complete this payment.",
				Type:    ErrTypeAuthentication,
			},
		}
	}

	txn := m.transactionID()
	intentID := strings.TrimSpace(data.IntentID)
	if intentID == "" {
		intentID = "pi_mock_" + m.opaqueID()
	}
	return PaymentResult{
		Success:       true,
		TransactionID: txn,
		ReceiptURL:    "https://receipts.mock.local/" + txn,
		Intent: &PaymentIntent{
			ID:        intentID,
			Amount:    data.Amount,
			Currency:  strings.ToUpper(data.Currency),
			Status:    StatusSucceeded,
			Metadata:  data.Metadata,
			CreatedAt: time.Now(),
		},
	}
}

// VerifyWebhook checks the Mock-Signature header, an HMAC-SHA256 hex digest of
// the raw body. It fails closed when the secret or header is absent.
func (m *Mock) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	secret := strings.TrimSpace(m.cfg.WebhookSecret)
	provided := strings.TrimSpace(r.Header.Get("Mock-Signature"))
	if secret == "" || provided == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing webhook secret or signature")}, nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				Charge           string `json:"charge,omitempty"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	return WebhookVerifyResult{
		Valid: true,
		Event: WebhookEvent{
			Provider: m.Name(),
			ID:       payload.ID,
			Type:     payload.Type,
			IntentID: payload.Data.Object.ID,
			ChargeID: payload.Data.Object.Charge,
			Message:  payload.Data.Object.LastPaymentError.Message,
			Payload:  body,
		},
	}, nil
}

func (m *Mock) latency() time.Duration {
	min, max := m.cfg.MinLatency, m.cfg.MaxLatency
	if max <= min {
		return min
	}
	return min + time.Duration(m.draw()*float64(max-min))
}

func (m *Mock) draw() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// transactionID builds ids shaped TXN_<base36 timestamp>_<6 random base36>,
// both segments upper-cased.
func (m *Mock) transactionID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	return "TXN_" + strings.ToUpper(ts) + "_" + strings.ToUpper(m.randomBase36(6))
}

// opaqueID yields a random 24-character base36 string for intent ids and
// client secrets.
func (m *Mock) opaqueID() string {
	return m.randomBase36(24)
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (m *Mock) randomBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx := int(m.draw() * float64(len(base36Alphabet)))
		if idx >= len(base36Alphabet) {
			idx = len(base36Alphabet) - 1
		}
		b[i] = base36Alphabet[idx]
	}
	return string(b)
}
