package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultRequestTimeout = 25 * time.Second

// MountRoutes installs the middleware chain, the operational endpoints and
// the /v1 group.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	if s.Metrics != nil {
		s.router.Handle("/metrics", s.Metrics.Handler())
	}
	s.router.Route("/v1", s.mountV1)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, errRouteNotFound)
	})
	s.router.MethodNotAllowed(writeMethodNotAllowed)
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer: outermost so every panic becomes a 500 envelope.
//  2. ContextTimeout
//  3. RequestID: before logging so log lines carry it.
//  4. SecurityHeaders
//  5. RequestLogger
//  6. CORS: answers preflight before metrics and limits.
//  7. Metrics
//  8. RateLimit
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	if s.Metrics != nil {
		s.router.Use(s.Metrics.HTTPMiddleware)
	}
	if s.limiter != nil {
		s.router.Use(s.RateLimit)
	}
}

func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
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
