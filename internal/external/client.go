// Package external holds the outbound SMS gateway clients. Every provider
// call goes through BaseClient, which applies circuit breaking, retries with
// backoff, trace propagation and error mapping in one place.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"smsdispatch/internal/security"
	"smsdispatch/internal/types"

	"github.com/sony/gobreaker/v2"
)

// detailStatusCode is the AppError detail key carrying the last HTTP status.
const detailStatusCode = "status_code"

// detailBody carries a bounded copy of the last response body.
const detailBody = "body"

// RetryPolicy configures in-call retries. These are distinct from the
// message-level retries recorded on the row: they only smooth over brief
// provider hiccups inside a single dispatch attempt.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy keeps in-call retries short so a single attempt stays
// well inside the scheduler's time budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		MinWait:    200 * time.Millisecond,
		MaxWait:    time.Second,
	}
}

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep between retries. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBreaker builds the gateway circuit breaker. It opens after more than five
// consecutive failed calls and probes again after 30 seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A blocked endpoint is a bad gateway row, not a sick provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, security.ErrBlockedEndpoint)
		},
	})
}

// NewBaseClient creates a BaseClient with its own breaker named breakerName.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	return NewBaseClientWithBreaker(httpClient, NewBreaker(breakerName), retryPolicy, userAgent, opts...)
}

// NewBaseClientWithBreaker creates a BaseClient around a caller-provided breaker.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes req through the breaker, retrying on 429 and 5xx.
//
// Any response other than 429/5xx is returned as-is (including 4xx) and the
// caller closes the body. Exhausted retries, an open breaker or a transport
// failure yield a *types.AppError; see mapError for the codes.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-B3-TraceId", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}
		if resp != nil {
			lastResp = resp
		}

		if isBreakerRejection(err) {
			break
		}
		// Transport failures are not retried here: the request may have
		// reached the provider and a resend could duplicate the SMS.
		if resp == nil {
			break
		}
		if attempt < maxAttempts-1 {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	appErr := c.mapError(lastResp, lastErr)
	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, appErr
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// computeBackoff honors Retry-After (seconds or HTTP-date) and otherwise uses
// exponential backoff with jitter clamped to [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.retryPolicy.MaxWait)
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.retryPolicy.MinWait
				}
				return min(wait, c.retryPolicy.MaxWait)
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	base = math.Min(base, float64(c.retryPolicy.MaxWait))
	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError translates a failed call into an AppError:
//
//	breaker open            -> upstream_circuit_open
//	429 after retries       -> upstream_rate_limited
//	5xx after retries       -> upstream_gateway_unavailable
//	blocked endpoint        -> validation_gateway_config
//	transport failure       -> upstream_unavailable
//
// The last HTTP status, when there was one, is kept in Details together with
// at most maxReasonBytes of its body so providers can extract their reason.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if isBreakerRejection(err) {
		return types.NewAppError(
			types.ErrCodeUpstreamCircuitOpen,
			"circuit breaker is open; gateway temporarily unavailable",
			err,
		)
	}

	if errors.Is(err, security.ErrBlockedEndpoint) {
		return types.NewAppError(
			types.ErrCodeValidationGatewayConfig,
			"gateway endpoint resolves to a blocked address",
			err,
		)
	}

	if resp != nil {
		details := map[string]any{
			detailStatusCode: resp.StatusCode,
			detailBody:       string(readBody(resp)),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamRateLimited,
				"gateway rate limit exceeded",
				err,
				details,
			)
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("gateway returned %d after retries", resp.StatusCode),
			err,
			details,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		"gateway request failed",
		err,
	)
}
