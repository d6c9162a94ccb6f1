// Package service реализует бизнес-логику платёжного прокси: создание платежа
// Pix и проверку его статуса.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/mercadopago"
	"github.com/mmeshcher/cvbuilder-pay/internal/model"
	"github.com/mmeshcher/cvbuilder-pay/internal/validation"
)

// Gateway описывает контракт платёжной системы, используемый сервисом.
type Gateway interface {
	Configured() bool
	CreatePayment(ctx context.Context, in mercadopago.PaymentRequest, idempotencyKey string) (*mercadopago.Payment, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// Config содержит ограничения на сумму платежа и его описание.
type Config struct {
	MinAmount     decimal.Decimal
	MaxAmount     decimal.Decimal
	DefaultAmount decimal.Decimal
	Description   string
}

// DefaultConfig возвращает ограничения по умолчанию: 1.00–10.00, платёж 2.00.
func DefaultConfig() Config {
	return Config{
		MinAmount:     decimal.RequireFromString("1.00"),
		MaxAmount:     decimal.RequireFromString("10.00"),
		DefaultAmount: decimal.RequireFromString("2.00"),
		Description:   "Download Currículo PDF - CV Builder Pro",
	}
}

// Service содержит бизнес-логику платёжного прокси.
type Service struct {
	gateway Gateway
	cfg     Config
	logger  *zap.Logger
	newKey  func() string
}

// NewService создаёт сервис поверх платёжной системы.
func NewService(gateway Gateway, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		newKey:  uuid.NewString,
	}
}

// Configured сообщает, задан ли токен доступа к платёжной системе.
func (s *Service) Configured() bool {
	return s.gateway != nil && s.gateway.Configured()
}

// AmountRange возвращает допустимый диапазон суммы платежа.
func (s *Service) AmountRange() (decimal.Decimal, decimal.Decimal) {
	return s.cfg.MinAmount, s.cfg.MaxAmount
}

// CreateCharge создаёт платёж Pix. Нулевая сумма заменяется суммой по умолчанию.
// До платёжной системы доходят только прошедшие проверку запросы.
func (s *Service) CreateCharge(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error) {
	if email == "" {
		return nil, invalidArgument("Email is required and must be a string")
	}
	if !validation.IsValidEmail(email) {
		return nil, invalidArgument("Invalid email format")
	}

	if amount.IsZero() {
		amount = s.cfg.DefaultAmount
	}
	if !validation.IsAmountInRange(amount, s.cfg.MinAmount, s.cfg.MaxAmount) {
		return nil, invalidArgument("Payment amount must be between %s and %s",
			s.cfg.MinAmount.String(), s.cfg.MaxAmount.String())
	}
	// Диапазон проверяется до округления, иначе 0.995 превратится в 1.00.
	amount = amount.Round(2)

	if !s.Configured() {
		s.logger.Error("MERCADO_PAGO_ACCESS_TOKEN not configured")
		return nil, ErrUnconfigured
	}

	payerEmail := validation.NormalizeEmail(email)
	key := s.newKey()

	payment, err := s.gateway.CreatePayment(ctx, mercadopago.PaymentRequest{
		TransactionAmount: json.Number(amount.StringFixed(2)),
		Description:       s.cfg.Description,
		PaymentMethodID:   "pix",
		Payer: mercadopago.Payer{
			Email:     payerEmail,
			FirstName: "Cliente",
			LastName:  "CV Builder",
		},
	}, key)
	if err != nil {
		mapped := s.upstreamError(err, false)
		s.logger.Warn("create payment failed",
			zap.Error(err),
			zap.String("idempotency_key", key),
			zap.String("upstream_body", upstreamBody(err)),
		)
		return nil, mapped
	}

	data := payment.PointOfInteraction.TransactionData
	charge := &model.Charge{
		ID:           mercadopago.FormatID(payment.ID),
		Amount:       amount,
		PayerEmail:   payerEmail,
		Status:       model.ParseChargeStatus(payment.Status),
		QRCode:       data.QRCode,
		QRCodeBase64: data.QRCodeBase64,
		TicketURL:    data.TicketURL,
	}

	s.logger.Info("payment created",
		zap.String("charge_id", charge.ID),
		zap.String("status", string(charge.Status)),
		zap.String("amount", amount.StringFixed(2)),
	)

	return charge, nil
}

// GetChargeStatus возвращает статус платежа. Если платёж не найден, возвращается
// статус not_found вместе с ErrChargeNotFound.
func (s *Service) GetChargeStatus(ctx context.Context, id string) (model.ChargeStatus, error) {
	if id == "" {
		return "", invalidArgument("Missing payment ID")
	}
	if !validation.IsValidChargeID(id) {
		return "", invalidArgument("Invalid payment ID format")
	}

	if !s.Configured() {
		s.logger.Error("MERCADO_PAGO_ACCESS_TOKEN not configured")
		return "", ErrUnconfigured
	}

	payment, err := s.gateway.GetPayment(ctx, id)
	if err != nil {
		mapped := s.upstreamError(err, true)
		if errors.Is(mapped, ErrChargeNotFound) {
			s.logger.Info("payment not found", zap.String("charge_id", id),
				zap.String("status", string(model.ChargeStatusNotFound)))
			return model.ChargeStatusNotFound, mapped
		}
		s.logger.Warn("check payment status failed",
			zap.Error(err),
			zap.String("charge_id", id),
			zap.String("upstream_body", upstreamBody(err)),
		)
		return "", mapped
	}

	return model.ParseChargeStatus(payment.Status), nil
}

// upstreamError переводит ошибку платёжной системы в ошибку сервиса.
// Ответ 404 означает отсутствующий платёж только при запросе статуса.
func (s *Service) upstreamError(err error, notFoundAsMissing bool) error {
	if errors.Is(err, mercadopago.ErrMissingCredential) {
		return ErrUnconfigured
	}

	var apiErr *mercadopago.APIError
	if errors.As(err, &apiErr) {
		switch {
		case notFoundAsMissing && apiErr.StatusCode == http.StatusNotFound:
			return &UpstreamError{Kind: ErrChargeNotFound, StatusCode: apiErr.StatusCode, Err: err}
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return &UpstreamError{Kind: ErrUpstreamRejected, StatusCode: apiErr.StatusCode, Err: err}
		default:
			return &UpstreamError{Kind: ErrUpstreamUnavailable, StatusCode: apiErr.StatusCode, Err: err}
		}
	}

	return &UpstreamError{Kind: ErrUpstreamUnavailable, Err: err}
}

func upstreamBody(err error) string {
	var apiErr *mercadopago.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return ""
}
