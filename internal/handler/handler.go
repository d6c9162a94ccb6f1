// Package handler содержит HTTP-обработчики платёжного прокси.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/middleware"
	"github.com/mmeshcher/cvbuilder-pay/internal/model"
	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
	"github.com/mmeshcher/cvbuilder-pay/internal/service"
)

const maxRequestBody = 16 << 10

const (
	msgInvalidJSON       = "Invalid JSON in request body"
	msgEmailRequired     = "Email is required and must be a string"
	msgUnconfigured      = "Payment service not configured"
	msgCreationRejected  = "Payment creation failed. Please check your data and try again."
	msgInternal          = "Internal server error. Please try again later."
	msgChargeNotFound    = "Payment not found"
	msgStatusCheckFailed = "Error checking payment status"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Configured() bool
	AmountRange() (decimal.Decimal, decimal.Decimal)
	CreateCharge(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error)
	GetChargeStatus(ctx context.Context, id string) (model.ChargeStatus, error)
}

// Handler реализует HTTP-обработчики платёжного прокси.
type Handler struct {
	service        Service
	logger         *zap.Logger
	security       *middleware.SecurityHeaders
	limiter        ratelimit.Store
	metrics        *middleware.Metrics
	metricsHandler http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, security *middleware.SecurityHeaders, limiter ratelimit.Store) *Handler {
	if security == nil {
		security = middleware.NewSecurityHeaders(nil)
	}

	return &Handler{
		service:  s,
		logger:   logger,
		security: security,
		limiter:  limiter,
	}
}

// WithMetrics подключает сбор метрик и обработчик для их выдачи на /metrics.
func (h *Handler) WithMetrics(m *middleware.Metrics, exposer http.Handler) *Handler {
	h.metrics = m
	h.metricsHandler = exposer
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

type createPaymentRequest struct {
	Email  json.RawMessage `json:"email"`
	Amount json.RawMessage `json:"amount"`
}

type createPaymentResponse struct {
	ID           string `json:"id"`
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
	Status       string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreatePayment создаёт платёж Pix и возвращает данные для оплаты.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidJSON})
		return
	}

	var email string
	if len(req.Email) == 0 || json.Unmarshal(req.Email, &email) != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msgEmailRequired})
		return
	}

	amount, ok := parseAmount(req.Amount)
	if !ok {
		lo, hi := h.service.AmountRange()
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Payment amount must be between " + lo.String() + " and " + hi.String(),
		})
		return
	}

	charge, err := h.service.CreateCharge(r.Context(), email, amount)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, createPaymentResponse{
		ID:           charge.ID,
		QRCode:       charge.QRCode,
		QRCodeBase64: charge.QRCodeBase64,
		TicketURL:    charge.TicketURL,
		Status:       string(charge.Status),
	})
}

// parseAmount принимает число, строку с числом или null. Отсутствующая сумма
// возвращается нулём, её заменит сумма по умолчанию.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 {
		return decimal.Zero, true
	}

	var amount decimal.Decimal
	if err := amount.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, false
	}

	return amount, true
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	var argErr *service.ArgumentError
	var upErr *service.UpstreamError

	switch {
	case errors.As(err, &argErr):
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: argErr.Message})
	case errors.Is(err, service.ErrUnconfigured):
		middleware.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: msgUnconfigured})
	case errors.Is(err, service.ErrUpstreamRejected) && errors.As(err, &upErr):
		middleware.WriteJSON(w, upErr.StatusCode, errorResponse{Error: msgCreationRejected})
	default:
		h.logger.Error("create payment error", zap.Error(err))
		middleware.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}

// CheckStatus возвращает текущий статус платежа по параметру id.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	status, err := h.service.GetChargeStatus(r.Context(), id)
	if err != nil {
		var argErr *service.ArgumentError

		switch {
		case errors.As(err, &argErr):
			middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: argErr.Message})
		case errors.Is(err, service.ErrUnconfigured):
			middleware.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: msgUnconfigured})
		case errors.Is(err, service.ErrChargeNotFound):
			middleware.WriteJSON(w, http.StatusNotFound, statusResponse{
				Status: string(model.ChargeStatusPending),
				Error:  msgChargeNotFound,
			})
		default:
			h.logger.Error("check status error", zap.Error(err), zap.String("charge_id", id))
			middleware.WriteJSON(w, http.StatusInternalServerError, statusResponse{
				Status: string(model.ChargeStatusPending),
				Error:  msgStatusCheckFailed,
			})
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

// RequireConfigured отвечает 500 на любой запрос, пока не задан токен доступа
// к платёжной системе. Подробность пишется только в лог.
func (h *Handler) RequireConfigured(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.service.Configured() {
			h.logger.Error("MERCADO_PAGO_ACCESS_TOKEN not configured", zap.String("path", r.URL.Path))
			middleware.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: msgUnconfigured})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Healthz сообщает о доступности сервиса и наличии токена платёжной системы.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": h.service.Configured(),
	})
}
