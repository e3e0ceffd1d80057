package payment

import "time"

// IntentStatus tracks where a payment intent sits in its lifecycle. Statuses
// only move forward, or to canceled from any non-terminal state.
type IntentStatus string

const (
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusProcessing            IntentStatus = "processing"
	StatusSucceeded             IntentStatus = "succeeded"
	StatusCanceled              IntentStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s IntentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

func (s IntentStatus) rank() int {
	switch s {
	case StatusRequiresPaymentMethod:
		return 0
	case StatusRequiresConfirmation:
		return 1
	case StatusProcessing:
		return 2
	case StatusSucceeded:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving to target is a legal lifecycle step.
// Canceled is reachable from any non-terminal state; everything else must move
// strictly forward.
func (s IntentStatus) CanTransitionTo(target IntentStatus) bool {
	if s.Terminal() {
		return false
	}
	if target == StatusCanceled {
		return true
	}
	sr, tr := s.rank(), target.rank()
	if sr < 0 || tr < 0 {
		return false
	}
	return tr > sr
}

// PaymentIntent is one attempted charge held in flight by the core. Long-term
// persistence belongs to the order collaborator, not to this service.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       float64           `json:"amount"`
	Currency     string            `json:"currency"`
	Status       IntentStatus      `json:"status"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastError    *ResultError      `json:"lastError,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// PaymentMethodType enumerates the supported instrument kinds.
type PaymentMethodType string

const (
	MethodCard         PaymentMethodType = "card"
	MethodPayPal       PaymentMethodType = "paypal"
	MethodBankTransfer PaymentMethodType = "bank_transfer"
	MethodApplePay     PaymentMethodType = "apple_pay"
	MethodGooglePay    PaymentMethodType = "google_pay"
)

// CardDetails is the non-sensitive summary of a stored card instrument.
type CardDetails struct {
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// PaymentMethod is a reusable instrument reference. It never carries raw card
// data.
type PaymentMethod struct {
	ID          string            `json:"id"`
	Type        PaymentMethodType `json:"type"`
	Card        *CardDetails      `json:"cardDetails,omitempty"`
	PayPalEmail string            `json:"paypalEmail,omitempty"`
	IsDefault   bool              `json:"isDefault"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// CardInput holds the raw card fields submitted for a single transaction.
type CardInput struct {
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	CVC         string `json:"cvc"`
	Name        string `json:"name"`
}

// Address is a postal address; Line1 is always required for billing.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Customer identifies the paying party.
type Customer struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Shipping carries the delivery destination when one exists.
type Shipping struct {
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// MethodSpec describes the instrument for one transaction: either raw card
// fields or a provider token, plus the billing address.
type MethodSpec struct {
	Type           PaymentMethodType `json:"type"`
	Card           *CardInput        `json:"card,omitempty"`
	Token          string            `json:"token,omitempty"`
	BillingAddress Address           `json:"billingAddress"`
}

// PaymentData is the per-transaction request handed to the gateway.
type PaymentData struct {
	IntentID    string            `json:"intentId,omitempty"`
	Amount      float64           `json:"amount"`
	Currency    string            `json:"currency"`
	Method      MethodSpec        `json:"paymentMethod"`
	Customer    *Customer         `json:"customer,omitempty"`
	Shipping    *Shipping         `json:"shipping,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrorType is the canonical failure taxonomy carried on every failed result.
type ErrorType string

const (
	// ErrTypeCard covers instrument rejections: declines, insufficient funds.
	ErrTypeCard ErrorType = "card_error"
	// ErrTypeValidation covers malformed requests caught before any network call.
	ErrTypeValidation ErrorType = "validation_error"
	// ErrTypeAPI covers transport, provider and internal faults. Retriable.
	ErrTypeAPI ErrorType = "api_error"
	// ErrTypeAuthentication signals a required step-up challenge (3-D Secure).
	ErrTypeAuthentication ErrorType = "authentication_error"
)

// ResultError is a normalised provider or validation failure.
type ResultError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

// NextActionType enumerates how a caller completes a step-up challenge.
type NextActionType string

const (
	ActionRedirectToURL  NextActionType = "redirect_to_url"
	ActionUseProviderSDK NextActionType = "use_provider_sdk"
)

// NextAction tells the caller how to continue an authentication challenge.
type NextAction struct {
	Type          NextActionType `json:"type"`
	RedirectToURL string         `json:"redirectToUrl,omitempty"`
}

// PaymentResult is the normalised outcome of a process attempt. Error is
// always non-nil when Success is false.
type PaymentResult struct {
	Success        bool           `json:"success"`
	Intent         *PaymentIntent `json:"paymentIntent,omitempty"`
	TransactionID  string         `json:"transactionId,omitempty"`
	ReceiptURL     string         `json:"receiptUrl,omitempty"`
	Error          *ResultError   `json:"error,omitempty"`
	RequiresAction bool           `json:"requiresAction,omitempty"`
	NextAction     *NextAction    `json:"nextAction,omitempty"`
}

// WebhookEvent is a provider notification after signature verification and
// payload normalisation.
type WebhookEvent struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intentId,omitempty"`
	ChargeID string `json:"chargeId,omitempty"`
	Message  string `json:"message,omitempty"`
	Payload  []byte `json:"-"`
}
