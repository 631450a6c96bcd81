package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"car-watchdog/utils"
)

// NewRouter mounts the HTTP surface. cable serves the broadcast WebSocket.
func NewRouter(h *Handler, cable http.Handler, logger *utils.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(logger.Named("http")))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// The WebSocket is long-lived and stays outside the request timeout.
	if cable != nil {
		r.Handle("/cable", cable)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/stats", h.Stats)
		r.Get("/listings", h.Listings)
		r.Post("/push_subscriptions", h.CreateSubscription)
		r.Get("/vapid_public_key", h.VAPIDPublicKey)
	})

	return r
}
