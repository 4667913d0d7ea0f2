package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/http/auth"
	"github.com/MrJamesThe3rd/payments/internal/http/payment"
	"github.com/MrJamesThe3rd/payments/internal/http/webhook"
)

type Options struct {
	Logger         *zap.Logger
	Metrics        RequestObserver
	MetricsHandler http.Handler
	Auth           *auth.Authenticator
	AllowedOrigins []string
}

func New(
	paymentsV1 *payment.Handler,
	webhooksV1 *webhook.Handler,
	opts Options,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(Instrument(opts.Logger, opts.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{traceHeader},
		MaxAge:         300,
	}))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	if opts.MetricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			if opts.Auth != nil {
				r.Use(opts.Auth.Middleware)
			}

			r.Use(middleware.AllowContentType("application/json"))
			paymentsV1.Routes(r)
		})

		r.Route("/webhooks", func(r chi.Router) {
			webhooksV1.Routes(r)

			r.Route("/deadletters", func(r chi.Router) {
				if opts.Auth != nil {
					r.Use(opts.Auth.Middleware)
				}

				webhooksV1.DeadLetterRoutes(r)
			})
		})
	})

	return router
}
