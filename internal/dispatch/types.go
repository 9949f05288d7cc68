// Package dispatch performs one delivery attempt for one message: claim,
// gateway and credit checks, the provider call, and the resulting state
// transition. It never decides which messages are due; see package scheduler.
package dispatch

import (
	"context"
	"time"

	"smsdispatch/internal/cache"
	"smsdispatch/internal/config"
	"smsdispatch/internal/types"
)

// Result is the outcome of one Attempt.
type Result string

const (
	ResultSent    Result = "sent"
	ResultRetry   Result = "retry"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// Failure reasons recorded in messages.error_message.
const (
	ReasonRetriesExhausted   = "Exceeded maximum retry attempts"
	ReasonGatewayNotFound    = "Gateway not found"
	ReasonGatewayInactive    = "Gateway is inactive"
	ReasonInsufficientCredit = "Insufficient credits"
	ReasonUserNotFound       = "User not found"
)

// unknownProvider labels metrics for attempts that never resolved a gateway.
const unknownProvider types.GatewayProvider = "unknown"

// MessageStore is the subset of the message repository the engine writes through.
type MessageStore interface {
	Claim(ctx context.Context, id string, now time.Time, maxRetries int) (*types.Message, bool, error)
	FailExhausted(ctx context.Context, id string, reason string, now time.Time, maxRetries int) (bool, error)
	MarkSent(ctx context.Context, id string, now time.Time, providerMessageID string) (bool, error)
	MarkRetry(ctx context.Context, id string, reason string, nextRetry time.Time, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) (bool, error)
}

type GatewayStore interface {
	GetByID(ctx context.Context, id string) (*types.Gateway, error)
}

type CreditLedger interface {
	Reserve(ctx context.Context, userID string) (types.CreditReservation, error)
}

// Sender performs the provider call. *external.Registry implements it.
type Sender interface {
	Send(ctx context.Context, gw *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error)
}

type ReceiptStore interface {
	StoreReceipt(ctx context.Context, r cache.Receipt) error
}

type EventPublisher interface {
	Publish(ctx context.Context, evt types.DeliveryEvent) error
}

// Metrics receives dispatch and scheduler telemetry. Implementations must not
// block the caller on sink failures.
type Metrics interface {
	RecordDispatch(ctx context.Context, provider types.GatewayProvider, result Result)
	RecordGatewayLatency(ctx context.Context, provider types.GatewayProvider, d time.Duration)
	RecordSchedulerRun(ctx context.Context, trigger string, processed, deferred int)
	RecordReclaimed(ctx context.Context, n int)
}

// Policy bounds message-level retries.
type Policy struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultPolicy is three attempts, five minutes apart.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, RetryBackoff: 5 * time.Minute}
}

func PolicyFromConfig(cfg config.DispatchConfig) Policy {
	return Policy{MaxRetries: cfg.MaxRetries, RetryBackoff: cfg.RetryBackoff}
}
