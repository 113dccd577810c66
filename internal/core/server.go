// Package core is the HTTP chassis of the read API: a chi router with the
// cross-cutting middleware (panic recovery, timeouts, request ids, logging,
// CORS, metrics, rate limiting) applied before requests reach the domain
// handlers, which register themselves through V1RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"farmconnect/internal/config"
)

// HTTPMetrics instruments the handler chain. *metrics.Prometheus satisfies it.
type HTTPMetrics interface {
	HTTPMiddleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Server holds the router and the dependencies shared by every route.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	Metrics      HTTPMetrics
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handlers under /v1. They are set by
	// main so core does not import the handler packages.
	V1RouteRegistrars []func(chi.Router)

	router  *chi.Mux
	limiter *clientLimiter
}

// NewServer validates its inputs and prepares an empty router. Routes are
// mounted by MountRoutes once registrars are set.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}
	if cfg.Server.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute)
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe serves on the configured port until ctx is cancelled, then
// drains in-flight requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.Config.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("api listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.limiter != nil {
		s.limiter.stop()
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
