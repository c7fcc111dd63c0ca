/**
 * @description
 * This file sets up the HTTP router for the payment-service using the go-chi/chi router.
 * It defines the API routes, applies middleware for logging, CORS, identity resolution
 * and rate limiting, and maps the routes to their corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/payment-service/internal/app"
)

// RouterConfig carries the collaborators and settings the router needs.
type RouterConfig struct {
	Payments       *PaymentHandlers
	Sessions       *SessionHandlers
	Gate           *app.AccessGate
	Roles          *app.RoleResolver
	Auth           AuthMiddlewareConfig
	AllowedOrigins []string
	DashboardPath  string

	RateLimiter                  app.RateLimiter
	InitializeRateLimitPerMinute int

	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP replace RemoteAddr.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// NewRouter creates a new Chi router and registers the payment-service routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment service is healthy"))
	})

	r.Route("/payments", func(r chi.Router) {
		// Sub-router middleware so preflight requests are answered before routing.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.With(RateLimitInitialize(cfg.RateLimiter, cfg.InitializeRateLimitPerMinute, time.Minute)).
			Post("/initialize", cfg.Payments.InitializePaymentHandler)

		r.Post("/webhook", cfg.Payments.PaystackWebhookHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware(cfg.Auth))
		r.Use(RequireSession(cfg.Gate))

		r.Get("/auth/session", cfg.Sessions.SessionHandler)

		r.With(RequireAdmin(cfg.Roles, cfg.Gate, cfg.DashboardPath)).
			Get("/admin/invoices/{invoiceID}", cfg.Sessions.AdminInvoiceHandler)
	})

	return r
}
