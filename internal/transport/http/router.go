// Package httptransport exposes the pipeline's operational HTTP surface: the
// biometric engine webhook, pipeline triggers, and health/metrics endpoints.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every endpoint. The webhook authenticates with the shared
// secret announced to the biometric engine; trigger endpoints are expected to
// sit behind the deployment's ingress auth.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(h.requireWebhookSecret).
			Post("/programs/{programID}/deduplication/callback", h.handleBiometricCallback)

		r.Post("/programs/{programID}/biometric/run", h.handleBiometricRun)

		r.Post("/imports/{importID}/deduplicate", h.handleDeduplicate)
		r.Post("/imports/{importID}/merge", h.handleMerge)
		r.Post("/imports/{importID}/reindex", h.handleReindex)
		r.Delete("/imports/{importID}", h.handleDeleteImport)
	})
	return r
}
