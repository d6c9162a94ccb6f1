// Package proxyclient предоставляет клиент HTTP-интерфейса платёжного прокси.
package proxyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cvbuilder-pay/internal/model"
)

const maxErrorBody = 4096

// Error описывает отказ прокси. Message можно показывать пользователю.
type Error struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment proxy: status %d", e.StatusCode)
	}
	return fmt.Sprintf("payment proxy: status %d: %s", e.StatusCode, e.Message)
}

// UserMessage возвращает сообщение прокси для пользователя.
func (e *Error) UserMessage() string {
	return e.Message
}

// Client обращается к операциям /create-payment и /check-status.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент прокси по базовому адресу.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type createRequest struct {
	Email  string      `json:"email"`
	Amount json.Number `json:"amount,omitempty"`
}

type createResponse struct {
	ID           json.Number `json:"id"`
	QRCode       string      `json:"qr_code"`
	QRCodeBase64 string      `json:"qr_code_base64"`
	TicketURL    string      `json:"ticket_url"`
	Status       string      `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// CreateCharge создаёт платёж. Нулевая сумма не передаётся, прокси подставит
// сумму по умолчанию.
func (c *Client) CreateCharge(ctx context.Context, email string, amount decimal.Decimal) (*model.Charge, error) {
	in := createRequest{Email: email}
	if !amount.IsZero() {
		in.Amount = json.Number(amount.String())
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create-payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("decode response: charge id is empty")
	}

	return &model.Charge{
		ID:           out.ID.String(),
		Amount:       amount,
		PayerEmail:   email,
		Status:       model.ParseChargeStatus(out.Status),
		QRCode:       out.QRCode,
		QRCodeBase64: out.QRCodeBase64,
		TicketURL:    out.TicketURL,
	}, nil
}

// ChargeStatus запрашивает статус платежа. При любой ошибке возвращается
// pending вместе с самой ошибкой.
func (c *Client) ChargeStatus(ctx context.Context, id string) (model.ChargeStatus, error) {
	target := c.baseURL + "/check-status?" + url.Values{"id": {id}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return model.ChargeStatusPending, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.ChargeStatusPending, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.ChargeStatusPending, readError(resp)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.ChargeStatusPending, fmt.Errorf("decode response: %w", err)
	}

	return model.ParseChargeStatus(out.Status), nil
}

func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := &Error{StatusCode: resp.StatusCode}

	var body errorResponse
	if json.Unmarshal(raw, &body) == nil {
		e.Message = body.Error
		if body.RetryAfter > 0 {
			e.RetryAfter = time.Duration(body.RetryAfter) * time.Second
		}
	}

	return e
}
