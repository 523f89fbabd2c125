// Package core provides the API chassis for the LinkedAI engine: a chi
// router usable both under net/http (local) and behind a Lambda proxy
// adapter, with the cross-cutting middleware (recovery, request IDs,
// structured logging, internal-token auth) applied before domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"linkedai/internal/config"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// In Lambda deployments it should sit just under the function timeout.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders lists header names masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Internal-Token",
	"Stripe-Signature",
}

// Server bundles the router with the dependencies every handler needs.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	router  *chi.Mux
	closers []func(context.Context) error
}

// NewServer builds the chassis and registers the global middleware chain.
// Routes are mounted by the caller afterwards.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}

	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)

	return s, nil
}

// Handler returns the http.Handler for net/http and Lambda adapters.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function run during Shutdown, typically the
// pgx pool close.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs registered cleanup functions in reverse registration order
// and reports the first failure.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("shutdown cleanup failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
