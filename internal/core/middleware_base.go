package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"smsdispatch/internal/types"
)

// responseCapture records the status code written by downstream handlers.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// Recoverer turns a panic into a logged stack trace and a 500
// internal_unexpected_error response. It must be the outermost middleware.
func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				stack := debug.Stack()

				s.Logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprintf("%v", rvr)),
					slog.String("stack", string(stack)),
				)

				requestID := types.GetRequestID(r.Context())
				resp := APIErrorResponse{
					Error: ErrorDetail{
						Code:      string(types.ErrCodeInternalUnexpected),
						Message:   "an unexpected error occurred",
						RequestID: requestID,
					},
				}

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = writeJSON(w, resp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs method, path, status and duration for every request,
// with the values of redactedHeaders (case-insensitive) masked.
func RequestLogger(logger *slog.Logger, redactedHeaders []string) func(http.Handler) http.Handler {
	redactSet := make(map[string]struct{}, len(redactedHeaders))
	for _, h := range redactedHeaders {
		redactSet[strings.ToLower(h)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rc := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rc, r)

			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rc.statusCode),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
			}

			if reqID := types.GetRequestID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}

			headerAttrs := []slog.Attr{}
			for name, values := range r.Header {
				lowerName := strings.ToLower(name)
				if _, redact := redactSet[lowerName]; redact {
					headerAttrs = append(headerAttrs, slog.String(name, "[REDACTED]"))
				} else {
					headerAttrs = append(headerAttrs, slog.String(name, strings.Join(values, ", ")))
				}
			}
			if len(headerAttrs) > 0 {
				attrs = append(attrs, slog.Group("headers", attrsToAny(headerAttrs)...))
			}

			args := attrsToAny(attrs)
			switch {
			case rc.statusCode >= 500:
				logger.Error("request completed", args...)
			case rc.statusCode >= 400:
				logger.Warn("request completed", args...)
			default:
				logger.Info("request completed", args...)
			}
		})
	}
}

// attrsToAny converts a slice of slog.Attr to []any for use with slog methods.
func attrsToAny(attrs []slog.Attr) []any {
	result := make([]any, len(attrs))
	for i, a := range attrs {
		result[i] = a
	}
	return result
}

// MetricsMiddleware reports each request to s.Metrics, labelled by chi
// route pattern so path parameters do not explode cardinality. Unmatched
// requests are labelled "unmatched".
func (s *Server) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rc := &responseCapture{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rc, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		s.Metrics.RecordRequest(r.Method, route, strconv.Itoa(rc.statusCode), time.Since(start))
	})
}

// SecurityHeadersMiddleware sets nosniff, frame-deny and XSS headers on
// every response.
func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// NewCORSMiddleware allows the listed origins, or every origin when the list
// contains "*". OPTIONS preflights are answered with 204.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
			break
		}
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			var allowedOrigin string
			if allowAll {
				allowedOrigin = "*"
			} else if origin != "" {
				if _, ok := originSet[origin]; ok {
					allowedOrigin = origin
				}
			}

			if allowedOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.Header().Set("Access-Control-Allow-Credentials", "true")

				if allowedOrigin != "*" {
					w.Header().Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON formats the error envelope by hand so the panic path cannot fail
// inside json.Marshal.
func writeJSON(w http.ResponseWriter, resp APIErrorResponse) error {
	code := escapeJSON(resp.Error.Code)
	message := escapeJSON(resp.Error.Message)
	requestID := escapeJSON(resp.Error.RequestID)

	s := fmt.Sprintf(
		`{"error":{"code":"%s","message":"%s","request_id":"%s"}}`,
		code, message, requestID,
	)
	_, err := w.Write([]byte(s))
	return err
}

// escapeJSON escapes the characters that would break a JSON string literal.
func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}
