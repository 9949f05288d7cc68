package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"smsdispatch/internal/types"
)

// maxReasonBytes bounds how much of a provider response body is kept as a
// rejection reason.
const maxReasonBytes = 4096

// SMSProvider sends one message through one gateway.
//
// Provider-level failures (non-2xx, retries exhausted, breaker open) come back
// as a rejected SendOutcome. The error return is reserved for faults where the
// provider could not be asked at all: transport failures and unusable gateway
// configuration.
type SMSProvider interface {
	Provider() types.GatewayProvider
	Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error)
}

// reasonFunc extracts a provider's error text from a response body. It
// returns "" when the body carries none.
type reasonFunc func(body []byte) string

// outcomeFromDoError converts a BaseClient error into an outcome when the
// provider was reached (or deliberately not called because the breaker is
// open). Other errors are returned unchanged.
//
// When the final 429/5xx carried a body, reason runs on it first, then the
// body text itself is used; the AppError message is the last fallback.
func outcomeFromDoError(err error, reason reasonFunc) (types.SendOutcome, error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return types.SendOutcome{}, err
	}
	switch appErr.Code {
	case types.ErrCodeUpstreamCircuitOpen, types.ErrCodeUpstreamRateLimited, types.ErrCodeUpstreamGateway:
		status, _ := appErr.Details[detailStatusCode].(int)
		body, _ := appErr.Details[detailBody].(string)
		return types.Reject(rejectionReason([]byte(body), reason, appErr.Message), status), nil
	}
	return types.SendOutcome{}, err
}

// rejectionReason picks the provider reason, then the raw body, then fallback.
func rejectionReason(body []byte, reason reasonFunc, fallback string) string {
	if reason != nil {
		if r := reason(body); r != "" {
			return r
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}

// readBody reads at most maxReasonBytes of the response body.
func readBody(resp *http.Response) []byte {
	if resp.Body == nil {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	return body
}

// rawReason returns a non-JSON body verbatim, or a status line when empty.
func rawReason(body []byte, status int) string {
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fmt.Sprintf("gateway returned %d", status)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// configField is one required gateway setting.
type configField struct {
	name  string
	value string
}

// requireConfig reports the first empty field, in the order given, as a
// validation AppError.
func requireConfig(gw *types.Gateway, fields ...configField) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationGatewayConfig,
				fmt.Sprintf("gateway %s is missing %s", gw.ID, f.name),
				nil,
				map[string]any{"gateway_id": gw.ID, "field": f.name},
			)
		}
	}
	return nil
}

// wrapRequestError annotates a request construction failure.
func wrapRequestError(provider types.GatewayProvider, err error) error {
	return types.NewAppError(
		types.ErrCodeValidationGatewayConfig,
		fmt.Sprintf("failed to build %s request", provider),
		err,
	)
}
