package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hub-companion/internal/infrastructure/metrics"
)

// healthCheckTimeout bounds all component checks of one /healthz request.
const healthCheckTimeout = 5 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/system", s.handleSystem)

		r.Get("/global-connection", s.handleGetGlobalConnection)

		// The supervisor owns the connection in supervised mode.
		if !s.connections.Supervised() {
			r.Post("/global-connection", s.handleSetGlobalConnection)
			r.Delete("/global-connection", s.handleUnsetGlobalConnection)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.requireIrrigation)

			r.Get("/irrigation-valves", s.handleListValves)
			r.Post("/irrigation-valves", s.handleSaveValve)
			r.Get("/irrigation-features", s.handleGetFeatures)
			r.Post("/irrigation-features", s.handleSetFeatures)
		})
	})

	return r
}

// ComponentHealth is one entry of the /healthz response.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports the companion and each component. Any failing
// component answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]ComponentHealth, len(s.health)+1)

	hubStatus, err := s.connections.Status(ctx)
	switch {
	case err != nil:
		components["hub"] = ComponentHealth{Status: "error", Error: err.Error()}
	case hubStatus.Connected:
		components["hub"] = ComponentHealth{Status: "ok"}
	default:
		// Not fatal: the connection may not be set up yet.
		components["hub"] = ComponentHealth{Status: "disconnected"}
	}

	for name, checker := range s.health {
		if checker == nil {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = ComponentHealth{Status: "error", Error: err.Error()}
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = ComponentHealth{Status: "ok"}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}

// requireIrrigation answers 404 for irrigation routes when the controller
// is disabled.
func (s *Server) requireIrrigation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.irrigation == nil {
			writeNotFound(w, "irrigation is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
