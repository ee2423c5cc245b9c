package core

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// defaultRequestTimeout is the soft deadline applied to request contexts
// when the configuration does not specify one.
const defaultRequestTimeout = 29 * time.Second

// MountRoutes registers the global middleware chain, the domain handler
// routes, and the health check endpoint.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	for _, registrar := range s.RouteRegistrars {
		registrar(s.router)
	}

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer       - Catches panics; outermost to catch all failures.
//  2. ContextTimeout  - Sets a soft deadline on every request.
//  3. RequestID       - Generates/propagates correlation ID for logging.
//  4. SecurityHeaders - Ensures all responses include security headers.
//  5. RequestLogger   - Structured logging with status-based levels.
//  6. CORS            - Browser security headers and preflight handling.
//  7. Gzip            - Response compression; heatmap grids and feature
//     collections are large, highly compressible JSON.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(func(next http.Handler) http.Handler {
		return gzhttp.GzipHandler(next)
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}
