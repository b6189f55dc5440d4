// Package server implements the HTTP transport layer for the Bifrost gateway.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/app"
	"github.com/eugener/bifrost/internal/auth"
	"github.com/eugener/bifrost/internal/provider"
	"github.com/eugener/bifrost/internal/telemetry"
)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth     *auth.Auth
	Registry *provider.Registry
	App      *app.App
	Sink     gateway.TrafficSink // nil = no traffic recording
	Metrics  *telemetry.Metrics  // nil = no metrics
	MetricsH http.Handler        // prometheus exposition, nil = not served
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// Admin REST (admin-key gated)
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminOnly)
		s.mountAdminRoutes(r)
		if deps.MetricsH != nil {
			r.Handle("/metrics", deps.MetricsH)
		}
	})

	// Provider proxy catch-all (API-key gated). Must mount last; any path
	// under a registry name is dialect-relative.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.HandleFunc("/{provider}/*", s.handleProxy)
		r.HandleFunc("/{provider}", s.handleProxy)
	})

	return r
}

type server struct {
	deps Deps
}
