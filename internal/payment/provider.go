package payment

import (
	"context"
	"net/http"
)

// IntentRequest captures the information required to open a payment intent
// with a provider.
type IntentRequest struct {
	Amount   float64
	Currency string
	Customer *Customer
	Metadata map[string]string
}

// WebhookVerifyResult carries the normalised event extracted from a webhook
// notification after signature verification. Valid is false whenever the
// signature, secret or payload cannot be verified.
type WebhookVerifyResult struct {
	Valid bool
	Event WebhookEvent
	Err   error
}

// Provider abstracts the operations required from an upstream payment backend.
// Implementations translate provider-specific request and response shapes into
// the shared types; callers never branch on the concrete provider.
type Provider interface {
	// Name returns the provider's stable identifier (stripe, paypal, square, mock).
	Name() string
	// CreateIntent allocates a provider-side intent. The initial status is
	// requires_payment_method, except for order-then-capture providers which
	// start at requires_confirmation.
	CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error)
	// ProcessPayment attempts the charge. The result always carries a non-nil
	// Error tagged with a canonical type when Success is false.
	ProcessPayment(ctx context.Context, data PaymentData) PaymentResult
	// VerifyWebhook checks the notification signature and extracts the event.
	// It must fail closed: missing secrets, headers or malformed payloads all
	// yield Valid == false.
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
