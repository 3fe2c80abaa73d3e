// Package httpapi exposes the router engine over the OpenAI-compatible
// chat-completions/responses surface plus an admin surface for registry
// reload, health/budget introspection, and Prometheus metrics.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/router"
)

// maxRequestBodySize caps POST bodies on the routing surface at 10 MB.
const maxRequestBodySize = 10 << 20

// Dependencies bundles everything the handlers need. Health/Budget are
// passed alongside Engine (rather than reached through it) since the admin
// introspection endpoints read store snapshots the engine itself has no
// reason to expose.
type Dependencies struct {
	Engine  *router.Engine
	Health  health.Store
	Budget  budget.Store
	Metrics *metrics.Registry
	Logger  *slog.Logger

	AdminToken          string
	AllowInsecureResume bool

	// Reload re-reads the registry/policy config file and returns a new
	// Snapshot. Wired by the app layer (internal/registry.Load bound to
	// the configured CONFIG_PATH).
	Reload func() (*router.Snapshot, error)
}

func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes wires the full HTTP surface described in SPEC_FULL.md §6.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", healthzHandler(d))
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		r.Post("/chat/completions", chatCompletionsHandler(d))
		r.Post("/responses", responsesHandler(d))
		r.Get("/models", modelsHandler(d))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		r.Use(adminAuthMiddleware(d.AdminToken))
		r.Get("/health", adminHealthHandler(d))
		r.Get("/budget", adminBudgetHandler(d))
		r.Post("/reload", adminReloadHandler(d))
		r.Post("/models", adminUpsertModelHandler(d))
		r.Post("/providers", adminUpsertProviderHandler(d))
	})
}

func healthzHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Engine.Snapshot()
		if snap == nil || len(snap.Models) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]any{"status": "unhealthy"})
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "models": len(snap.Models)})
	}
}
