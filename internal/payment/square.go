package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/payment-core/internal/resilience"
)

// Square is a thin translation layer to the Square orders and payments APIs.
type Square struct {
	APIKey        string
	WebhookSecret string
	// NotificationURL is the public webhook endpoint registered with Square;
	// it participates in signature verification.
	NotificationURL string
	BaseURL         string
	Client          *resilience.HTTPClient
}

func (q Square) Name() string { return "square" }

func (q Square) baseURL() string {
	host := strings.TrimRight(strings.TrimSpace(q.BaseURL), "/")
	if host == "" {
		return "https://connect.squareup.com"
	}
	return host
}

// CreateIntent opens a Square order that a later payment references.
func (q Square) CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error) {
	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"order": map[string]any{
			"line_items": []map[string]any{{
				"name":     "checkout",
				"quantity": "1",
				"base_price_money": map[string]any{
					"amount":   minorUnits(req.Amount),
					"currency": strings.ToUpper(req.Currency),
				},
			}},
		},
	}
	var resp struct {
		Order struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
		} `json:"order"`
		Errors []squareError `json:"errors"`
	}
	if err := q.postJSON(ctx, "/v2/orders", body, &resp); err != nil {
		return PaymentIntent{}, err
	}
	if len(resp.Errors) > 0 {
		return PaymentIntent{}, fmt.Errorf("square: %s", resp.Errors[0].Detail)
	}
	return PaymentIntent{
		ID:        resp.Order.ID,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
		Status:    StatusRequiresPaymentMethod,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}, nil
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// ProcessPayment charges the tokenised instrument against the order.
func (q Square) ProcessPayment(ctx context.Context, data PaymentData) PaymentResult {
	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"source_id":       data.Method.Token,
		"amount_money": map[string]any{
			"amount":   minorUnits(data.Amount),
			"currency": strings.ToUpper(data.Currency),
		},
	}
	if data.IntentID != "" {
		body["order_id"] = data.IntentID
	}
	var resp struct {
		Payment struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			OrderID    string `json:"order_id"`
			ReceiptURL string `json:"receipt_url"`
		} `json:"payment"`
		Errors []squareError `json:"errors"`
	}
	if err := q.postJSON(ctx, "/v2/payments", body, &resp); err != nil {
		return apiErrorResult(err)
	}
	if len(resp.Errors) > 0 {
		return squareFailure(resp.Errors[0])
	}

	switch resp.Payment.Status {
	case "COMPLETED", "APPROVED":
		intentID := resp.Payment.OrderID
		if intentID == "" {
			intentID = data.IntentID
		}
		return PaymentResult{
			Success:       true,
			TransactionID: resp.Payment.ID,
			ReceiptURL:    resp.Payment.ReceiptURL,
			Intent: &PaymentIntent{
				ID:        intentID,
				Amount:    data.Amount,
				Currency:  strings.ToUpper(data.Currency),
				Status:    StatusSucceeded,
				Metadata:  data.Metadata,
				CreatedAt: time.Now(),
			},
		}
	case "FAILED", "CANCELED":
		return PaymentResult{
			Success: false,
			Error: &ResultError{
				Code:    "card_declined",
				Message: "The payment was declined.",
				Type:    ErrTypeCard,
			},
		}
	default:
		return apiErrorResult(fmt.Errorf("square: unexpected payment status %q", resp.Payment.Status))
	}
}

func squareFailure(e squareError) PaymentResult {
	errType := ErrTypeAPI
	if e.Category == "PAYMENT_METHOD_ERROR" {
		errType = ErrTypeCard
	}
	return PaymentResult{
		Success: false,
		Error: &ResultError{
			Code:    strings.ToLower(e.Code),
			Message: e.Detail,
			Type:    errType,
		},
	}
}

// VerifyWebhook checks the x-square-hmacsha256-signature header: a base64
// HMAC-SHA256 of the notification URL concatenated with the raw body.
func (q Square) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	secret := strings.TrimSpace(q.WebhookSecret)
	provided := strings.TrimSpace(r.Header.Get("x-square-hmacsha256-signature"))
	if secret == "" || provided == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing webhook secret or signature")}, nil
	}
	notificationURL := strings.TrimSpace(q.NotificationURL)
	if notificationURL == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("notification url not configured")}, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		EventID string `json:"event_id"`
		Type    string `json:"type"`
		Data    struct {
			Object struct {
				Payment struct {
					ID      string `json:"id"`
					Status  string `json:"status"`
					OrderID string `json:"order_id"`
				} `json:"payment"`
				Dispute struct {
					ID string `json:"id"`
					DisputedPayment struct {
						PaymentID string `json:"payment_id"`
					} `json:"disputed_payment"`
				} `json:"dispute"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}

	event := WebhookEvent{
		Provider: q.Name(),
		ID:       payload.EventID,
		Type:     squareEventType(payload.Type, payload.Data.Object.Payment.Status),
		IntentID: payload.Data.Object.Payment.OrderID,
		ChargeID: payload.Data.Object.Payment.ID,
		Payload:  body,
	}
	if payload.Data.Object.Dispute.ID != "" {
		event.ChargeID = payload.Data.Object.Dispute.DisputedPayment.PaymentID
	}
	return WebhookVerifyResult{Valid: true, Event: event}, nil
}

// squareEventType folds Square's payment.updated notifications into the
// canonical event vocabulary using the embedded payment status.
func squareEventType(eventType, paymentStatus string) string {
	switch eventType {
	case "payment.updated", "payment.created":
		switch paymentStatus {
		case "COMPLETED":
			return "payment_intent.succeeded"
		case "FAILED", "CANCELED":
			return "payment_intent.payment_failed"
		case "PENDING", "APPROVED":
			return "payment_intent.requires_action"
		}
		return eventType
	case "dispute.created":
		return "charge.dispute.created"
	default:
		return eventType
	}
}

func (q Square) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL()+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+q.APIKey)

	var resp *http.Response
	if q.Client != nil {
		resp, err = q.Client.Do(ctx, req)
	} else {
		resp, err = http.DefaultClient.Do(req)
	}
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
