package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"smsdispatch/internal/types"
)

// AuthMiddleware requires a bearer token accepted by s.Authenticator and
// stores the resolved Actor on the request context. Failures are 401 with
// auth_token_missing or auth_token_invalid.
//
// A nil Authenticator lets every request through; cmd/api only allows that
// in local.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken returns the token from "Bearer <token>", matching the
// scheme case-insensitively per RFC 7235, or "" if the header is malformed.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenInvalid {
		s.Logger.Warn("authentication failed: token invalid",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
		return
	}

	// Don't leak internal details.
	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
