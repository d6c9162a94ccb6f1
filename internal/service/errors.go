package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument объединяет ошибки входных данных, исправимые клиентом.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnconfigured возвращается, если не задан токен доступа к платёжной системе.
	ErrUnconfigured = errors.New("payment service not configured")
	// ErrUpstreamRejected возвращается, если платёжная система отклонила запрос (4xx).
	ErrUpstreamRejected = errors.New("payment provider rejected the request")
	// ErrUpstreamUnavailable возвращается при таймауте, сетевой ошибке или ответе 5xx.
	ErrUpstreamUnavailable = errors.New("payment provider unavailable")
	// ErrChargeNotFound возвращается, если платёжная система не нашла платёж.
	ErrChargeNotFound = errors.New("charge not found")
)

// ArgumentError описывает некорректный входной параметр. Сообщение безопасно
// показывать клиенту.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string {
	return e.Message
}

// Is сопоставляет ошибку с ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidArgument(format string, args ...any) error {
	return &ArgumentError{Message: fmt.Sprintf(format, args...)}
}

// UpstreamError описывает неуспешное обращение к платёжной системе.
type UpstreamError struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
