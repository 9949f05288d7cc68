package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories MUST use these constants
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTask     ErrorCode = "validation_invalid_task"
	ErrCodeValidationUnknownProvider ErrorCode = "validation_unknown_gateway_provider"
	ErrCodeValidationGatewayConfig   ErrorCode = "validation_invalid_gateway_config"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Credits (402)
	ErrCodeCreditsInsufficient ErrorCode = "credits_insufficient"

	// Not Found (404)
	ErrCodeNotFoundMessage ErrorCode = "not_found_message"
	ErrCodeNotFoundGateway ErrorCode = "not_found_gateway"
	ErrCodeNotFoundUser    ErrorCode = "not_found_user"

	// Conflict (409)
	ErrCodeConflictJobRunning ErrorCode = "conflict_job_already_running"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalCache       ErrorCode = "internal_cache_error"
	ErrCodeUpstreamGateway     ErrorCode = "upstream_gateway_unavailable"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamCircuitOpen ErrorCode = "upstream_circuit_open"
	ErrCodeUpstreamBadResponse ErrorCode = "upstream_bad_response"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "credits_"):
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain, repository and
// handler errors are expressed as AppError so that they carry a stable code,
// map onto an HTTP status and keep the underlying cause for errors.Is/As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code. This lets
// package-level sentinels such as ErrGatewayNotFound match freshly constructed
// errors that carry a different message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// Domain sentinels. Compare with errors.Is; matching is by code.
var (
	ErrGatewayNotFound     = NewAppError(ErrCodeNotFoundGateway, "Gateway not found", nil)
	ErrUserNotFound        = NewAppError(ErrCodeNotFoundUser, "User not found", nil)
	ErrMessageNotFound     = NewAppError(ErrCodeNotFoundMessage, "Message not found", nil)
	ErrInsufficientCredits = NewAppError(ErrCodeCreditsInsufficient, "Insufficient credits", nil)
	ErrUnknownProvider     = NewAppError(ErrCodeValidationUnknownProvider, "Unknown gateway provider", nil)
)

// ErrorCodeOf extracts the ErrorCode from err, or "" when err carries none.
func ErrorCodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
