package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/cvbuilder-pay/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware платёжного прокси.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.With(
		h.security.Handler(http.MethodPost, true),
		h.RequireConfigured,
		custommiddleware.RateLimit(h.limiter, h.logger),
	).HandleFunc("/create-payment", h.CreatePayment)

	r.With(
		h.security.Handler(http.MethodGet, false),
		h.RequireConfigured,
	).HandleFunc("/check-status", h.CheckStatus)

	r.Get("/healthz", h.Healthz)
	if h.metricsHandler != nil {
		r.Handle("/metrics", h.metricsHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		custommiddleware.WriteJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		custommiddleware.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method Not Allowed"})
	})

	return r
}
