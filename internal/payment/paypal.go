package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/payment-core/internal/resilience"
)

// PayPal is a thin translation layer to the PayPal orders API. PayPal models
// order-then-capture, so new intents start at requires_confirmation.
type PayPal struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Client        *resilience.HTTPClient
}

func (p PayPal) Name() string { return "paypal" }

func (p PayPal) baseURL() string {
	host := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if host == "" {
		return "https://api-m.paypal.com"
	}
	return host
}

type paypalOrderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID string `json:"id"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

// CreateIntent opens a PayPal order for later capture.
func (p PayPal) CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         strconv.FormatFloat(req.Amount, 'f', 2, 64),
			},
		}},
	}
	var resp paypalOrderResponse
	if err := p.postJSON(ctx, "/v2/checkout/orders", body, &resp); err != nil {
		return PaymentIntent{}, err
	}
	if resp.ID == "" {
		return PaymentIntent{}, errors.New("paypal: order creation returned no id")
	}
	return PaymentIntent{
		ID:        resp.ID,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
		Status:    StatusRequiresConfirmation,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}, nil
}

// ProcessPayment captures the approved order.
func (p PayPal) ProcessPayment(ctx context.Context, data PaymentData) PaymentResult {
	orderID := strings.TrimSpace(data.IntentID)
	if orderID == "" {
		return PaymentResult{
			Success: false,
			Error: &ResultError{
				Code:    "order_not_found",
				Message: "A PayPal order must be created before capture.",
				Type:    ErrTypeAPI,
			},
		}
	}
	var resp paypalOrderResponse
	if err := p.postJSON(ctx, "/v2/checkout/orders/"+orderID+"/capture", nil, &resp); err != nil {
		return apiErrorResult(err)
	}

	switch resp.Status {
	case "COMPLETED":
		txn := ""
		if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
			txn = resp.PurchaseUnits[0].Payments.Captures[0].ID
		}
		return PaymentResult{
			Success:       true,
			TransactionID: txn,
			Intent: &PaymentIntent{
				ID:        resp.ID,
				Amount:    data.Amount,
				Currency:  strings.ToUpper(data.Currency),
				Status:    StatusSucceeded,
				Metadata:  data.Metadata,
				CreatedAt: time.Now(),
			},
		}
	case "PAYER_ACTION_REQUIRED":
		action := &NextAction{Type: ActionUseProviderSDK}
		for _, link := range resp.Links {
			if link.Rel == "payer-action" {
				action = &NextAction{Type: ActionRedirectToURL, RedirectToURL: link.Href}
				break
			}
		}
		return PaymentResult{
			Success:        false,
			RequiresAction: true,
			NextAction:     action,
			Error: &ResultError{
				Code:    "authentication_required",
				Message: "The payer must approve this payment before capture.",
				Type:    ErrTypeAuthentication,
			},
		}
	case "DECLINED":
		code, message := "card_declined", "The payment was declined."
		if len(resp.Details) > 0 {
			code = strings.ToLower(resp.Details[0].Issue)
			message = resp.Details[0].Description
		}
		return PaymentResult{
			Success: false,
			Error:   &ResultError{Code: code, Message: message, Type: ErrTypeCard},
		}
	default:
		return apiErrorResult(fmt.Errorf("paypal: unexpected order status %q", resp.Status))
	}
}

// VerifyWebhook checks the transmission signature: an HMAC-SHA256 hex digest
// of "<transmission-id>|<transmission-time>|<body>" keyed by the webhook
// secret.
func (p PayPal) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	secret := strings.TrimSpace(p.WebhookSecret)
	transmissionID := strings.TrimSpace(r.Header.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(r.Header.Get("Paypal-Transmission-Time"))
	provided := strings.TrimSpace(r.Header.Get("Paypal-Transmission-Sig"))
	if secret == "" || transmissionID == "" || transmissionTime == "" || provided == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing webhook secret or transmission headers")}, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|", transmissionID, transmissionTime)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                string `json:"id"`
			Status            string `json:"status"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
			StatusDetails struct {
				Reason string `json:"reason"`
			} `json:"status_details"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	intentID := payload.Resource.SupplementaryData.RelatedIDs.OrderID
	if intentID == "" {
		intentID = payload.Resource.ID
	}
	return WebhookVerifyResult{
		Valid: true,
		Event: WebhookEvent{
			Provider: p.Name(),
			ID:       payload.ID,
			Type:     paypalEventType(payload.EventType),
			IntentID: intentID,
			ChargeID: payload.Resource.ID,
			Message:  payload.Resource.StatusDetails.Reason,
			Payload:  body,
		},
	}, nil
}

// paypalEventType maps PayPal event names onto the canonical event vocabulary
// the dispatcher understands. Unknown events pass through unchanged.
func paypalEventType(eventType string) string {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		return "payment_intent.succeeded"
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return "payment_intent.payment_failed"
	case "CHECKOUT.PAYMENT-APPROVAL.REVERSED", "CHECKOUT.ORDER.APPROVED":
		return "payment_intent.requires_action"
	case "CUSTOMER.DISPUTE.CREATED":
		return "charge.dispute.created"
	default:
		return eventType
	}
}

func (p PayPal) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	var resp *http.Response
	if p.Client != nil {
		resp, err = p.Client.Do(ctx, req)
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
