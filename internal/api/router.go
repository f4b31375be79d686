/**
 * @description
 * HTTP router setup for the card ledger service using go-chi/chi.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the settings the router needs beyond the handlers.
type RouterOptions struct {
	AllowedOrigins  []string
	InternalAPIKey  string
	OperatorJWKSURL string
	Limiter         RateLimiter
	Logger          *slog.Logger
}

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Card ledger service is healthy"))
	})

	r.Get("/summary", h.handleGetSummary)
	r.Get("/transactions/{txnID}", h.handleGetTransaction)
	r.Get("/payments", h.handleListPayments)

	r.Group(func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(opts.OperatorJWKSURL))
		r.Use(RateLimitMiddleware(opts.Limiter, opts.Logger))
		r.Post("/events", h.handleSubmitEvent)
		r.Post("/events/validate", h.handleValidateEvent)
	})

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Use(OperatorAuthMiddleware(opts.OperatorJWKSURL))
		r.Post("/reset", h.handleReset)
	})

	return r
}
