// Package mercadopago предоставляет клиент для API платежей Mercado Pago.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL адрес публичного API Mercado Pago.
const DefaultBaseURL = "https://api.mercadopago.com"

const maxErrorBody = 2048

// ErrMissingCredential возвращается, если клиенту не передан токен доступа.
var ErrMissingCredential = errors.New("mercadopago access token not configured")

// APIError описывает ответ API с кодом, отличным от успешного.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: unexpected status %d", e.StatusCode)
}

// Client инкапсулирует HTTP-взаимодействие с API платежей. Ответы 5xx и
// сетевые ошибки повторяются с тем же ключом идемпотентности в пределах таймаута.
type Client struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	httpClient  *retryablehttp.Client
}

// Payer описывает плательщика в запросе на создание платежа.
type Payer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// PaymentRequest описывает тело запроса на создание платежа.
type PaymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	Payer             Payer       `json:"payer"`
}

// TransactionData содержит данные для оплаты через Pix.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// PointOfInteraction содержит данные точки оплаты.
type PointOfInteraction struct {
	TransactionData TransactionData `json:"transaction_data"`
}

// Payment описывает платёж в ответах API.
type Payment struct {
	ID                 int64              `json:"id"`
	Status             string             `json:"status"`
	PointOfInteraction PointOfInteraction `json:"point_of_interaction"`
}

// NewClient создаёт клиент API по указанному адресу с токеном доступа и таймаутом запросов.
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		timeout:     timeout,
		httpClient:  rc,
	}
}

// Configured сообщает, задан ли токен доступа.
func (c *Client) Configured() bool {
	return c != nil && c.accessToken != ""
}

// CreatePayment создаёт платёж. Ключ идемпотентности передаётся в заголовке X-Idempotency-Key.
func (c *Client) CreatePayment(ctx context.Context, in PaymentRequest, idempotencyKey string) (*Payment, error) {
	if !c.Configured() {
		return nil, ErrMissingCredential
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	return c.do(req)
}

// GetPayment запрашивает платёж по идентификатору.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if !c.Configured() {
		return nil, ErrMissingCredential
	}

	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, id)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.do(req)
}

func (c *Client) do(req *retryablehttp.Request) (*Payment, error) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	defer cancel()

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var result Payment
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

// FormatID переводит числовой идентификатор платежа в строку.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
