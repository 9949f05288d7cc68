// Package core provides the HTTP chassis for the SMS dispatch service: a chi
// router with the cross-cutting middleware, the health and metrics
// endpoints, and the bearer-protected manual trigger endpoints.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smsdispatch/internal/config"
	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest records one completed request. route is the chi route
	// pattern, not the raw path.
	RecordRequest(method, route, status string, duration time.Duration)
}

// TaskRunner executes a scheduler task. *scheduler.TaskRunner implements it.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error)
}

// Authenticator resolves a bearer token to an Actor.
type Authenticator interface {
	// ResolveToken returns ErrCodeAuthTokenInvalid for an unknown token.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// Server holds everything the HTTP layer needs. Optional fields may be set
// between NewServer and MountRoutes.
type Server struct {
	Config *config.Config
	Runner TaskRunner
	Logger *slog.Logger

	// Authenticator protects /v1. Nil disables authentication (local only).
	Authenticator Authenticator
	Metrics       MetricsCollector
	// MetricsHandler is served at GET /metrics when set.
	MetricsHandler http.Handler
	HealthProbes   []HealthProbe
	Clock          types.Clock

	closers []func() error
	router  *chi.Mux
}

// NewServer validates the required dependencies. The caller mounts routes
// with MountRoutes once optional fields are set.
func NewServer(cfg *config.Config, runner TaskRunner, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("task runner must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Runner: runner,
		Logger: logger,
		Clock:  types.RealClock{},
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, in reverse order of
// registration.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases resources registered with OnShutdown. Every closer runs;
// their errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
