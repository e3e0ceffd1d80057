package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/payment-core/internal/common"
)

// Handlers exposes the gateway over HTTP.
type Handlers struct {
	Gateway *Gateway
	Store   IntentStore
}

type createIntentRequest struct {
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Customer *Customer         `json:"customer,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Intent handles POST /payments/intent.
func (h *Handlers) Intent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	intent, err := h.Gateway.CreatePaymentIntent(r.Context(), req.Amount, req.Currency, req.Customer, req.Metadata)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.writeError(w, common.NewAppError("TIMEOUT", "provider did not respond in time", http.StatusGatewayTimeout, err))
			return
		}
		h.writeError(w, common.NewAppError("INTENT_CREATE_FAILED", err.Error(), http.StatusBadGateway, err))
		return
	}
	common.JSON(w, http.StatusCreated, intent)
}

// Process handles POST /payments/process. The response status follows the
// error taxonomy: invalid input 422, declined or challenged cards 402,
// provider timeouts 504, other provider faults 502.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	var data PaymentData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	result := h.Gateway.ProcessPayment(r.Context(), data)
	common.JSON(w, processStatus(result), result)
}

// Get handles GET /payments/{intentId}.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INTENT_ID", "intent id is required", nil)
		return
	}
	intent, err := h.Store.Get(r.Context(), id)
	if errors.Is(err, ErrIntentNotFound) {
		h.writeError(w, common.NewAppError("INTENT_NOT_FOUND", "no such payment intent", http.StatusNotFound, err))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intent)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONError(w, status, code, message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func processStatus(result PaymentResult) int {
	if result.Success {
		return http.StatusOK
	}
	if result.Error == nil {
		return http.StatusBadGateway
	}
	// Provider timeouts surface as api_error with a dedicated code so the
	// HTTP layer can answer 504 instead of a generic upstream fault.
	if result.Error.Code == "request_timeout" {
		return http.StatusGatewayTimeout
	}
	switch result.Error.Type {
	case ErrTypeValidation:
		return http.StatusUnprocessableEntity
	case ErrTypeCard, ErrTypeAuthentication:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}
