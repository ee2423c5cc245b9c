// Package core provides the API chassis for the AirSense platform. It
// creates a chi router and enforces cross-cutting concerns -- logging,
// request correlation, timeouts, compression, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"airsense/internal/config"
)

// RouteRegistrar mounts a set of domain handler routes onto the router.
// The indirection avoids import cycles between core and handler packages.
type RouteRegistrar func(chi.Router)

// Server encapsulates all dependencies for the API, allowing for easy
// injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are the subsystem checks executed by GET /health.
	HealthProbes []HealthProbe

	// RouteRegistrars are populated by the application entry point before
	// MountRoutes is called.
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the router and prepares the server for route
// mounting. It performs a fail-fast check on critical dependencies.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
