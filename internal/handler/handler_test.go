package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/mercadopago"
	"github.com/mmeshcher/cvbuilder-pay/internal/middleware"
	"github.com/mmeshcher/cvbuilder-pay/internal/model"
	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
	"github.com/mmeshcher/cvbuilder-pay/internal/service"
)

type stubService struct {
	unconfigured bool

	charge    *model.Charge
	createErr error

	status    model.ChargeStatus
	statusErr error

	createCalls int
	statusCalls int
	lastEmail   string
	lastAmount  decimal.Decimal
	lastID      string
}

func (s *stubService) Configured() bool {
	return !s.unconfigured
}

func (s *stubService) AmountRange() (decimal.Decimal, decimal.Decimal) {
	return decimal.NewFromInt(1), decimal.NewFromInt(10)
}

func (s *stubService) CreateCharge(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error) {
	s.createCalls++
	s.lastEmail = email
	s.lastAmount = amount
	return s.charge, s.createErr
}

func (s *stubService) GetChargeStatus(ctx context.Context, id string) (model.ChargeStatus, error) {
	s.statusCalls++
	s.lastID = id
	return s.status, s.statusErr
}

func newTestRouter(t *testing.T, svc Service) http.Handler {
	t.Helper()

	store, err := ratelimit.NewMemoryStore(ratelimit.Rule{Requests: 5, Window: time.Minute})
	require.NoError(t, err)

	security := middleware.NewSecurityHeaders([]string{"https://cv.example.com"})

	return NewHandler(svc, zap.NewNop(), security, store).SetupRouter()
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	res := rec.Result()
	t.Cleanup(func() { res.Body.Close() })

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res, raw
}

func decodeMap(t *testing.T, raw []byte) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

func TestCreatePayment_Success(t *testing.T) {
	svc := &stubService{
		charge: &model.Charge{
			ID:           "123456789",
			Status:       model.ChargeStatusPending,
			QRCode:       "000201pix",
			QRCodeBase64: "iVBORw0KGgo=",
			TicketURL:    "https://mp.example/ticket/1",
		},
	}
	router := newTestRouter(t, svc)

	res, raw := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com","amount":2.00}`)

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://cv.example.com", res.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, res.Header.Get("Strict-Transport-Security"))

	var resp createPaymentResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, createPaymentResponse{
		ID:           "123456789",
		QRCode:       "000201pix",
		QRCodeBase64: "iVBORw0KGgo=",
		TicketURL:    "https://mp.example/ticket/1",
		Status:       "pending",
	}, resp)

	assert.Equal(t, 1, svc.createCalls)
	assert.Equal(t, "user@test.com", svc.lastEmail)
	assert.True(t, svc.lastAmount.Equal(decimal.NewFromInt(2)))
}

func TestCreatePayment_RequestParsing(t *testing.T) {
	type want struct {
		status  int
		error   string
		calls   int
		amount  string
		checkAm bool
	}

	tests := []struct {
		name string
		body string
		want want
	}{
		{
			name: "malformed json",
			body: `{"email":`,
			want: want{status: http.StatusBadRequest, error: "Invalid JSON in request body"},
		},
		{
			name: "email missing",
			body: `{"amount":2}`,
			want: want{status: http.StatusBadRequest, error: "Email is required and must be a string"},
		},
		{
			name: "email is not a string",
			body: `{"email":42}`,
			want: want{status: http.StatusBadRequest, error: "Email is required and must be a string"},
		},
		{
			name: "amount is not numeric",
			body: `{"email":"user@test.com","amount":"lots"}`,
			want: want{status: http.StatusBadRequest, error: "Payment amount must be between 1 and 10"},
		},
		{
			name: "amount as numeric string",
			body: `{"email":"user@test.com","amount":"5.50"}`,
			want: want{status: http.StatusOK, calls: 1, amount: "5.5", checkAm: true},
		},
		{
			name: "null amount",
			body: `{"email":"user@test.com","amount":null}`,
			want: want{status: http.StatusOK, calls: 1, amount: "0", checkAm: true},
		},
		{
			name: "amount omitted",
			body: `{"email":"user@test.com"}`,
			want: want{status: http.StatusOK, calls: 1, amount: "0", checkAm: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{charge: &model.Charge{ID: "1", Status: model.ChargeStatusPending}}
			router := newTestRouter(t, svc)

			res, raw := doRequest(t, router, http.MethodPost, "/create-payment", tt.body)

			assert.Equal(t, tt.want.status, res.StatusCode)
			assert.Equal(t, tt.want.calls, svc.createCalls)
			if tt.want.error != "" {
				assert.Equal(t, tt.want.error, decodeMap(t, raw)["error"])
			}
			if tt.want.checkAm {
				assert.Equal(t, tt.want.amount, svc.lastAmount.String())
			}
		})
	}
}

func TestCreatePayment_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "argument error",
			err:        &service.ArgumentError{Message: "Invalid email format"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid email format",
		},
		{
			name:       "unconfigured",
			err:        service.ErrUnconfigured,
			wantStatus: http.StatusInternalServerError,
			wantError:  "Payment service not configured",
		},
		{
			name: "upstream rejected keeps its status",
			err: &service.UpstreamError{
				Kind:       service.ErrUpstreamRejected,
				StatusCode: http.StatusUnprocessableEntity,
				Err:        context.Canceled,
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Payment creation failed. Please check your data and try again.",
		},
		{
			name: "upstream unavailable",
			err: &service.UpstreamError{
				Kind:       service.ErrUpstreamUnavailable,
				StatusCode: http.StatusBadGateway,
				Err:        context.DeadlineExceeded,
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error. Please try again later.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{createErr: tt.err}
			router := newTestRouter(t, svc)

			res, raw := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com"}`)

			assert.Equal(t, tt.wantStatus, res.StatusCode)
			body := decodeMap(t, raw)
			assert.Equal(t, tt.wantError, body["error"])
			assert.NotContains(t, string(raw), "deadline")
		})
	}
}

func TestCreatePayment_UpstreamNotFoundKeepsStatus(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"resource not found"}`))
	}))
	defer gateway.Close()

	client := mercadopago.NewClient(gateway.URL, "test-token", time.Second)
	router := newTestRouter(t, service.NewService(client, service.DefaultConfig(), nil))

	res, raw := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com","amount":2}`)

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "Payment creation failed. Please check your data and try again.", decodeMap(t, raw)["error"])
	assert.NotContains(t, string(raw), "resource not found")
}

func TestCreatePayment_Unconfigured(t *testing.T) {
	svc := &stubService{unconfigured: true}
	router := newTestRouter(t, svc)

	res, raw := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com"}`)

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "Payment service not configured", decodeMap(t, raw)["error"])
	assert.NotContains(t, string(raw), "MERCADO_PAGO")
	assert.Zero(t, svc.createCalls)
}

func TestCreatePayment_Methods(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(t, svc)

	res, raw := doRequest(t, router, http.MethodOptions, "/create-payment", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, raw)

	res, raw = doRequest(t, router, http.MethodGet, "/create-payment", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	assert.Equal(t, "Method Not Allowed", decodeMap(t, raw)["error"])

	assert.Zero(t, svc.createCalls)
}

func TestUnconfigured_MethodHandlingComesFirst(t *testing.T) {
	svc := &stubService{unconfigured: true}
	router := newTestRouter(t, svc)

	res, raw := doRequest(t, router, http.MethodOptions, "/create-payment", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, raw)

	res, _ = doRequest(t, router, http.MethodGet, "/create-payment", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, _ = doRequest(t, router, http.MethodPost, "/check-status?id=1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, raw = doRequest(t, router, http.MethodGet, "/check-status?id=1", "")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "Payment service not configured", decodeMap(t, raw)["error"])

	assert.Zero(t, svc.createCalls)
	assert.Zero(t, svc.statusCalls)
}

func TestCreatePayment_RateLimited(t *testing.T) {
	svc := &stubService{charge: &model.Charge{ID: "1", Status: model.ChargeStatusPending}}
	router := newTestRouter(t, svc)

	for i := 0; i < 5; i++ {
		res, _ := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com"}`)
		require.Equal(t, http.StatusOK, res.StatusCode, "request %d", i+1)
	}

	res, raw := doRequest(t, router, http.MethodPost, "/create-payment", `{"email":"user@test.com"}`)

	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	body := decodeMap(t, raw)
	assert.Equal(t, "Too many requests. Please try again later.", body["error"])
	assert.Equal(t, float64(60), body["retryAfter"])
	assert.Equal(t, 5, svc.createCalls)
}

func TestCheckStatus(t *testing.T) {
	type want struct {
		status int
		body   map[string]any
		calls  int
	}

	tests := []struct {
		name      string
		target    string
		status    model.ChargeStatus
		statusErr error
		want      want
	}{
		{
			name:   "approved",
			target: "/check-status?id=123456789",
			status: model.ChargeStatusApproved,
			want:   want{status: http.StatusOK, body: map[string]any{"status": "approved"}, calls: 1},
		},
		{
			name:      "missing id",
			target:    "/check-status",
			statusErr: &service.ArgumentError{Message: "Missing payment ID"},
			want:      want{status: http.StatusBadRequest, body: map[string]any{"error": "Missing payment ID"}, calls: 1},
		},
		{
			name:      "not found",
			target:    "/check-status?id=42",
			status:    model.ChargeStatusNotFound,
			statusErr: &service.UpstreamError{Kind: service.ErrChargeNotFound, StatusCode: http.StatusNotFound, Err: io.EOF},
			want: want{
				status: http.StatusNotFound,
				body:   map[string]any{"status": "pending", "error": "Payment not found"},
				calls:  1,
			},
		},
		{
			name:      "upstream unavailable",
			target:    "/check-status?id=42",
			statusErr: &service.UpstreamError{Kind: service.ErrUpstreamUnavailable, Err: context.DeadlineExceeded},
			want: want{
				status: http.StatusInternalServerError,
				body:   map[string]any{"status": "pending", "error": "Error checking payment status"},
				calls:  1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{status: tt.status, statusErr: tt.statusErr}
			router := newTestRouter(t, svc)

			res, raw := doRequest(t, router, http.MethodGet, tt.target, "")

			assert.Equal(t, tt.want.status, res.StatusCode)
			assert.Equal(t, tt.want.body, decodeMap(t, raw))
			assert.Equal(t, tt.want.calls, svc.statusCalls)
			assert.Empty(t, res.Header.Get("Strict-Transport-Security"))
		})
	}
}

func TestCheckStatus_WrongMethod(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(t, svc)

	res, _ := doRequest(t, router, http.MethodPost, "/check-status?id=1", `{}`)

	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	assert.Zero(t, svc.statusCalls)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &stubService{unconfigured: true})

	res, raw := doRequest(t, router, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"status": "ok", "configured": false}, decodeMap(t, raw))
}
