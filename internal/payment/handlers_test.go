package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-core/internal/payment"
)

func newTestRouter(t *testing.T, provider payment.Provider) (*chi.Mux, *payment.MemoryStore) {
	t.Helper()
	store := payment.NewMemoryStore()
	gw := newTestGateway(t, provider, store, nil)
	h := &payment.Handlers{Gateway: gw, Store: store}

	r := chi.NewRouter()
	r.Post("/payments/intent", h.Intent)
	r.Post("/payments/process", h.Process)
	r.Get("/payments/{intentId}", h.Get)
	return r, store
}

func TestIntentEndpoint(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, &stubProvider{})

	body := []byte(`{"amount":49.99,"currency":"USD"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/intent", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var intent payment.PaymentIntent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &intent))
	require.Equal(t, payment.StatusRequiresPaymentMethod, intent.Status)

	_, err := store.Get(context.Background(), intent.ID)
	require.NoError(t, err)
}

func TestIntentEndpointRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &stubProvider{})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/intent", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProcessEndpointStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result payment.PaymentResult
		want   int
	}{
		{
			name:   "success",
			result: payment.PaymentResult{Success: true, TransactionID: "TXN_X_ABCDEF"},
			want:   http.StatusOK,
		},
		{
			name: "card declined",
			result: payment.PaymentResult{Success: false, Error: &payment.ResultError{
				Code: "card_declined", Type: payment.ErrTypeCard,
			}},
			want: http.StatusPaymentRequired,
		},
		{
			name: "authentication required",
			result: payment.PaymentResult{Success: false, RequiresAction: true, Error: &payment.ResultError{
				Code: "authentication_required", Type: payment.ErrTypeAuthentication,
			}},
			want: http.StatusPaymentRequired,
		},
		{
			name: "provider fault",
			result: payment.PaymentResult{Success: false, Error: &payment.ResultError{
				Code: "api_error", Type: payment.ErrTypeAPI,
			}},
			want: http.StatusBadGateway,
		},
		{
			name: "provider timeout",
			result: payment.PaymentResult{Success: false, Error: &payment.ResultError{
				Code: "request_timeout", Type: payment.ErrTypeAPI,
			}},
			want: http.StatusGatewayTimeout,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestRouter(t, &stubProvider{result: tc.result})

			body, err := json.Marshal(validCardData())
			require.NoError(t, err)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/process", bytes.NewReader(body)))
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestProcessEndpointValidationFailure(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, &stubProvider{})

	data := validCardData()
	data.Amount = -1
	body, err := json.Marshal(data)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/process", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var result payment.PaymentResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.NotNil(t, result.Error)
	require.Equal(t, payment.ErrTypeValidation, result.Error.Type)
}

func TestGetEndpoint(t *testing.T) {
	t.Parallel()

	r, store := newTestRouter(t, &stubProvider{})
	seedIntent(t, store, "pi_77", payment.StatusProcessing)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/pi_77", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var intent payment.PaymentIntent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &intent))
	require.Equal(t, payment.StatusProcessing, intent.Status)

	rr2 := httptest.NewRecorder()
	r.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/payments/pi_missing", nil))
	require.Equal(t, http.StatusNotFound, rr2.Code)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &envelope))
	require.Equal(t, "INTENT_NOT_FOUND", envelope.Error.Code)
	require.Equal(t, "no such payment intent", envelope.Error.Message)
}
