package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/payment-core/internal/resilience"
)

// Stripe is a thin translation layer to the Stripe payment intents API.
type Stripe struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
	Client        *resilience.HTTPClient
	// Tolerance bounds the accepted age of a webhook signature timestamp.
	Tolerance time.Duration
}

func (s Stripe) Name() string { return "stripe" }

func (s Stripe) baseURL() string {
	host := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if host == "" {
		return "https://api.stripe.com"
	}
	return host
}

type stripeIntentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	LatestCharge string `json:"latest_charge"`
	Created      int64  `json:"created"`
	NextAction   *struct {
		Type          string `json:"type"`
		RedirectToURL struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	Error *stripeError `json:"error"`
}

type stripeError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Type        string `json:"type"`
}

// CreateIntent opens a payment intent. Stripe intents start at
// requires_payment_method.
func (s Stripe) CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorUnits(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	if req.Customer != nil && req.Customer.ID != "" {
		form.Set("customer", req.Customer.ID)
	}

	var resp stripeIntentResponse
	if err := s.post(ctx, "/v1/payment_intents", form, &resp); err != nil {
		return PaymentIntent{}, err
	}
	if resp.Error != nil {
		return PaymentIntent{}, fmt.Errorf("stripe: %s", resp.Error.Message)
	}
	return PaymentIntent{
		ID:           resp.ID,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		Status:       stripeIntentStatus(resp.Status),
		ClientSecret: resp.ClientSecret,
		Metadata:     req.Metadata,
		CreatedAt:    time.Unix(resp.Created, 0),
	}, nil
}

// ProcessPayment confirms the charge and normalises the response into the
// shared result shape.
func (s Stripe) ProcessPayment(ctx context.Context, data PaymentData) PaymentResult {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorUnits(data.Amount), 10))
	form.Set("currency", strings.ToLower(data.Currency))
	form.Set("confirm", "true")
	if data.Method.Token != "" {
		form.Set("payment_method", data.Method.Token)
	}
	if data.Description != "" {
		form.Set("description", data.Description)
	}

	path := "/v1/payment_intents"
	if id := strings.TrimSpace(data.IntentID); id != "" {
		path = "/v1/payment_intents/" + id + "/confirm"
	}

	var resp stripeIntentResponse
	if err := s.post(ctx, path, form, &resp); err != nil {
		return apiErrorResult(err)
	}
	if resp.Error != nil {
		return stripeFailure(*resp.Error)
	}

	switch resp.Status {
	case "succeeded":
		return PaymentResult{
			Success:       true,
			TransactionID: resp.LatestCharge,
			Intent: &PaymentIntent{
				ID:           resp.ID,
				Amount:       data.Amount,
				Currency:     strings.ToUpper(data.Currency),
				Status:       StatusSucceeded,
				ClientSecret: resp.ClientSecret,
				Metadata:     data.Metadata,
				CreatedAt:    time.Unix(resp.Created, 0),
			},
		}
	case "requires_action":
		action := &NextAction{Type: ActionUseProviderSDK}
		if resp.NextAction != nil && resp.NextAction.RedirectToURL.URL != "" {
			action = &NextAction{Type: ActionRedirectToURL, RedirectToURL: resp.NextAction.RedirectToURL.URL}
		}
		return PaymentResult{
			Success:        false,
			RequiresAction: true,
			NextAction:     action,
			Error: &ResultError{
				Code:    "authentication_required",
				Message: "Additional authentication is required to complete this payment.",
				Type:    ErrTypeAuthentication,
			},
		}
	default:
		return apiErrorResult(fmt.Errorf("stripe: unexpected intent status %q", resp.Status))
	}
}

func stripeFailure(e stripeError) PaymentResult {
	code := e.DeclineCode
	if code == "" {
		code = e.Code
	}
	errType := ErrTypeAPI
	if e.Type == "card_error" {
		errType = ErrTypeCard
	}
	return PaymentResult{
		Success: false,
		Error:   &ResultError{Code: code, Message: e.Message, Type: errType},
	}
}

// VerifyWebhook validates the Stripe-Signature header: a timestamp and one or
// more v1 HMAC-SHA256 digests of "<timestamp>.<body>".
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	secret := strings.TrimSpace(s.WebhookSecret)
	header := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if secret == "" || header == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing webhook secret or signature")}, nil
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return WebhookVerifyResult{Valid: false, Err: errors.New("malformed signature header")}, nil
	}
	epoch, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return WebhookVerifyResult{Valid: false, Err: errors.New("malformed signature timestamp")}, nil
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if age := time.Since(time.Unix(epoch, 0)); age > tolerance || age < -tolerance {
		return WebhookVerifyResult{Valid: false, Err: errors.New("signature timestamp outside tolerance")}, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	matched := false
	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				PaymentIntent    string `json:"payment_intent"`
				Charge           string `json:"charge"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	event := WebhookEvent{
		Provider: s.Name(),
		ID:       payload.ID,
		Type:     payload.Type,
		IntentID: payload.Data.Object.ID,
		ChargeID: payload.Data.Object.Charge,
		Message:  payload.Data.Object.LastPaymentError.Message,
		Payload:  body,
	}
	// Dispute events reference the charge, not the intent.
	if strings.HasPrefix(payload.Type, "charge.dispute.") {
		event.ChargeID = payload.Data.Object.Charge
		if event.ChargeID == "" {
			event.ChargeID = payload.Data.Object.ID
		}
		event.IntentID = payload.Data.Object.PaymentIntent
	}
	return WebhookVerifyResult{Valid: true, Event: event}, nil
}

func (s Stripe) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.do(ctx, req)
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

func (s Stripe) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if s.Client != nil {
		return s.Client.Do(ctx, req)
	}
	return http.DefaultClient.Do(req)
}

// minorUnits converts a major-unit decimal amount into the smallest currency
// unit expected by provider APIs.
func minorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func stripeIntentStatus(status string) IntentStatus {
	switch status {
	case "requires_confirmation":
		return StatusRequiresConfirmation
	case "processing":
		return StatusProcessing
	case "succeeded":
		return StatusSucceeded
	case "canceled":
		return StatusCanceled
	default:
		return StatusRequiresPaymentMethod
	}
}

func apiErrorResult(err error) PaymentResult {
	code := "api_error"
	message := "The payment provider could not be reached."
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = "request_timeout"
		message = "The payment request timed out."
	case errors.Is(err, resilience.ErrOpenCircuit):
		code = "provider_unavailable"
		message = "The payment provider is temporarily unavailable."
	}
	return PaymentResult{
		Success: false,
		Error:   &ResultError{Code: code, Message: message, Type: ErrTypeAPI},
	}
}
