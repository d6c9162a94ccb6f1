// Package middleware содержит HTTP middleware платёжного прокси.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// SecurityHeaders добавляет CORS-заголовки и заголовки защиты ответа.
type SecurityHeaders struct {
	allowedOrigins []string
}

// NewSecurityHeaders создаёт middleware со списком разрешённых источников.
// Пустые элементы списка отбрасываются.
func NewSecurityHeaders(allowedOrigins []string) *SecurityHeaders {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return &SecurityHeaders{allowedOrigins: origins}
}

// AllowOrigin возвращает значение Access-Control-Allow-Origin для источника запроса:
// сам источник, если он в списке, иначе первый разрешённый источник или "*".
func (s *SecurityHeaders) AllowOrigin(origin string) string {
	for _, o := range s.allowedOrigins {
		if o == origin {
			return origin
		}
	}
	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins[0]
	}
	return "*"
}

// Handler возвращает middleware для маршрута с указанным методом. Запросы
// OPTIONS получают 200 с пустым телом, остальные методы, кроме method, получают 405.
// При hsts=true добавляется Strict-Transport-Security.
func (s *SecurityHeaders) Handler(method string, hsts bool) func(http.Handler) http.Handler {
	allowMethods := method + ", " + http.MethodOptions

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.AllowOrigin(r.Header.Get("Origin")))
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Add("Vary", "Origin")
			h.Set("Content-Type", "application/json")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			if r.Method != method {
				WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON сериализует v в JSON и записывает ответ с указанным кодом.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
