package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/rink-registrations/internal/idempotency"
	"github.com/robertarktes/rink-registrations/internal/observability"
	"github.com/robertarktes/rink-registrations/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency, admin *JWTVerifier) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// the payment provider retries on its own schedule; never throttle it
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(RateLimitMiddleware(rl))
		}
		r.Get("/v1/events", h.ListEvents)
		r.Get("/v1/events/{eventID}/capacity", h.EventCapacity)
		r.With(IdempotencyMiddleware(idemp)).Post("/v1/events/{eventID}/reservations", h.CreateReservation)
		r.Get("/v1/reservations/{holdID}", h.GetReservation)
		r.Delete("/v1/reservations/{holdID}", h.CancelReservation)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		if admin != nil {
			r.Use(admin.Middleware)
		} else {
			r.Use(denyAll)
		}
		r.Get("/registrations", h.ListRegistrations)
		r.Get("/registrations/{eventID}", h.GetRegistration)
		r.Put("/registrations/{eventID}/capacity", h.SetCapacity)
		r.Delete("/registrations/{eventID}", h.DeleteRegistration)
	})

	return r
}

// denyAll guards admin routes when no verification key is configured.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "admin API disabled"})
	})
}
