package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/cvbuilder-pay/internal/ratelimit"
)

const rateLimitedMessage = "Too many requests. Please try again later."

type rateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimit ограничивает частоту запросов по идентификатору клиента.
// При сбое хранилища запрос пропускается: ограничение не является границей безопасности.
func RateLimit(store ratelimit.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			client := ClientIdentifier(r)

			decision, err := store.Allow(r.Context(), client)
			if err != nil {
				logger.Warn("rate limiter failed", zap.Error(err), zap.String("client", client))
				next.ServeHTTP(w, r)
				return
			}

			if err := decision.Err(); err != nil {
				seconds := int(decision.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				logger.Info("request rejected", zap.Error(err), zap.String("client", client))
				WriteJSON(w, http.StatusTooManyRequests, rateLimitedResponse{
					Error:      rateLimitedMessage,
					RetryAfter: seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIdentifier определяет клиента по заголовкам прокси, а при их отсутствии
// по адресу соединения.
func ClientIdentifier(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	for _, header := range []string{"Client-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}
