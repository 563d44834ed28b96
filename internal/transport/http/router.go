// Package http wires the chi router: middleware chain, domain handlers and
// operational endpoints.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"psymetric/internal/transport/http/handlers"
	"psymetric/internal/transport/http/middleware"
)

// HealthCheck probes one backing dependency for the readiness endpoint.
type HealthCheck func(ctx context.Context) error

// NewRouter assembles the full route tree. healthz reports 503 as soon as
// any registered dependency probe fails.
func NewRouter(authProvider middleware.AuthProvider, results *handlers.ResultHandler, auditEvents *handlers.AuditHandler, checks ...HealthCheck) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.ResolveIdentity(authProvider))

	results.RegisterRoutes(r)
	auditEvents.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		for _, check := range checks {
			if err := check(req.Context()); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
