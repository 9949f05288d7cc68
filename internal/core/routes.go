package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"smsdispatch/internal/types"
)

// defaultRequestTimeout bounds every request context. A scheduler pass is
// itself bounded by the time budget, so this is only a backstop.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the middleware chain and every route.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method(http.MethodGet, "/metrics", s.MetricsHandler)
	}

	s.router.Route("/v1", s.mountV1)
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer        outermost, catches every panic
//  2. ContextTimeout   backstop deadline
//  3. RequestID        correlation id for logs
//  4. SecurityHeaders
//  5. RequestLogger    redacts Authorization
//  6. CORS
//  7. Metrics
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
}

func (s *Server) mountV1(r chi.Router) {
	r.Use(s.AuthMiddleware)
	r.Post("/messages/process", s.HandleProcess)
	r.Post("/messages/reclaim", s.HandleReclaim)
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one, and
// echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
