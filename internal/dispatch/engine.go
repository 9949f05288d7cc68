package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smsdispatch/internal/cache"
	"smsdispatch/internal/types"
)

// Deps are the collaborators of an Engine. Receipts, Events, Metrics and
// Classifier are optional.
type Deps struct {
	Messages   MessageStore
	Gateways   GatewayStore
	Credits    CreditLedger
	Sender     Sender
	Receipts   ReceiptStore
	Events     EventPublisher
	Metrics    Metrics
	Classifier Classifier
	Clock      types.Clock
	Logger     types.Logger
}

// Engine attempts delivery of individual messages.
type Engine struct {
	messages   MessageStore
	gateways   GatewayStore
	credits    CreditLedger
	sender     Sender
	receipts   ReceiptStore
	events     EventPublisher
	metrics    Metrics
	classifier Classifier
	clock      types.Clock
	logger     types.Logger
	policy     Policy
}

func NewEngine(deps Deps, policy Policy) *Engine {
	e := &Engine{
		messages:   deps.Messages,
		gateways:   deps.Gateways,
		credits:    deps.Credits,
		sender:     deps.Sender,
		receipts:   deps.Receipts,
		events:     deps.Events,
		metrics:    deps.Metrics,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		logger:     deps.Logger,
		policy:     policy,
	}
	if e.receipts == nil {
		e.receipts = cache.NoopReceiptCache{}
	}
	if e.events == nil {
		e.events = noopPublisher{}
	}
	if e.metrics == nil {
		e.metrics = NoopMetrics{}
	}
	if e.classifier == nil {
		e.classifier = TransientClassifier
	}
	if e.clock == nil {
		e.clock = types.RealClock{}
	}
	return e
}

// Policy returns the retry policy the engine enforces.
func (e *Engine) Policy() Policy { return e.policy }

// Attempt runs one delivery attempt for msg, which is the row as selected.
//
// Every delivery failure is recorded on the row and reported through Result;
// the error return is reserved for persistence failures. A message that
// another invocation claimed first, or that left the dispatchable states, is
// ResultSkipped.
//
// When ctx carries a reference time (see types.WithReferenceTime) the claim,
// backoff and recorded timestamps use it; otherwise the engine clock is read
// once per attempt.
func (e *Engine) Attempt(ctx context.Context, msg types.Message) (Result, error) {
	ctx = types.WithReferenceTime(ctx, e.now(ctx))
	log := e.logger.With("message_id", msg.ID, "retry_count", msg.RetryCount)

	if msg.RetryCount >= e.policy.MaxRetries {
		return e.failExhausted(ctx, log, msg)
	}

	claimed, ok, err := e.messages.Claim(ctx, msg.ID, e.now(ctx), e.policy.MaxRetries)
	if err != nil {
		return ResultSkipped, fmt.Errorf("claim message %s: %w", msg.ID, err)
	}
	if !ok {
		log.Info("message already claimed or no longer dispatchable")
		e.metrics.RecordDispatch(ctx, unknownProvider, ResultSkipped)
		return ResultSkipped, nil
	}

	// Past the claim the row is ours. Bookkeeping must finish even if the
	// caller gives up, otherwise the row waits for the reclaimer.
	ctx = context.WithoutCancel(ctx)
	log = log.With("attempt", claimed.RetryCount, "gateway_id", claimed.GatewayID)

	gw, err := e.gateways.GetByID(ctx, claimed.GatewayID)
	switch {
	case errors.Is(err, types.ErrGatewayNotFound):
		return e.fail(ctx, log, claimed, nil, ReasonGatewayNotFound)
	case err != nil:
		return e.retryOrFail(ctx, log, claimed, nil, fmt.Sprintf("Gateway lookup failed: %v", err), false)
	case !gw.Active:
		return e.fail(ctx, log, claimed, gw, ReasonGatewayInactive)
	case !gw.Provider.Valid():
		return e.fail(ctx, log, claimed, gw, fmt.Sprintf("Unknown gateway provider: %s", gw.Provider))
	}
	log = log.With("provider", string(gw.Provider))

	reservation, err := e.credits.Reserve(ctx, claimed.UserID)
	switch {
	case errors.Is(err, types.ErrInsufficientCredits):
		return e.fail(ctx, log, claimed, gw, ReasonInsufficientCredit)
	case errors.Is(err, types.ErrUserNotFound):
		return e.fail(ctx, log, claimed, gw, ReasonUserNotFound)
	case err != nil:
		return e.retryOrFail(ctx, log, claimed, gw, fmt.Sprintf("Credit check failed: %v", err), false)
	}

	started := e.clock.Now()
	outcome, sendErr := e.sender.Send(ctx, gw, claimed.Outbound())
	e.metrics.RecordGatewayLatency(ctx, gw.Provider, e.clock.Now().Sub(started))

	if sendErr == nil && outcome.Accepted {
		return e.markSent(ctx, log, claimed, gw, reservation, outcome)
	}

	if err := reservation.Release(ctx); err != nil {
		log.Error("failed to release credit reservation", "error", err)
	}

	reason := failureReason(outcome, sendErr)
	if isConfigurationError(sendErr) {
		return e.fail(ctx, log, claimed, gw, reason)
	}
	return e.retryOrFail(ctx, log, claimed, gw, reason, e.classifier(outcome, sendErr))
}

func (e *Engine) failExhausted(ctx context.Context, log types.Logger, msg types.Message) (Result, error) {
	ok, err := e.messages.FailExhausted(ctx, msg.ID, ReasonRetriesExhausted, e.now(ctx), e.policy.MaxRetries)
	if err != nil {
		return ResultSkipped, fmt.Errorf("fail exhausted message %s: %w", msg.ID, err)
	}
	if !ok {
		e.metrics.RecordDispatch(ctx, unknownProvider, ResultSkipped)
		return ResultSkipped, nil
	}

	log.Warn("message exceeded retry limit", "max_retries", e.policy.MaxRetries)
	e.metrics.RecordDispatch(ctx, unknownProvider, ResultFailed)
	e.publish(ctx, log, e.event(ctx, types.DeliveryEventFailed, &msg, nil, "", ReasonRetriesExhausted))
	return ResultFailed, nil
}

func (e *Engine) markSent(
	ctx context.Context,
	log types.Logger,
	msg *types.Message,
	gw *types.Gateway,
	reservation types.CreditReservation,
	outcome types.SendOutcome,
) (Result, error) {
	// The provider already accepted the message; a failed charge must not
	// turn it into a retry and a duplicate SMS.
	if err := reservation.Commit(ctx); err != nil {
		log.Error("credit deduction failed after accepted send", "error", err)
	}

	now := e.now(ctx)
	ok, err := e.messages.MarkSent(ctx, msg.ID, now, outcome.ProviderMessageID)
	if err != nil {
		return ResultSent, fmt.Errorf("mark message %s sent: %w", msg.ID, err)
	}
	if !ok {
		log.Warn("message left processing before it could be marked sent")
	}

	log.Info("message sent", "provider_message_id", outcome.ProviderMessageID)
	e.metrics.RecordDispatch(ctx, gw.Provider, ResultSent)

	if err := e.receipts.StoreReceipt(ctx, cache.Receipt{
		MessageID:         msg.ID,
		ProviderMessageID: outcome.ProviderMessageID,
		GatewayID:         gw.ID,
		SentAt:            now,
	}); err != nil {
		log.Warn("failed to cache delivery receipt", "error", err)
	}
	e.publish(ctx, log, e.event(ctx, types.DeliveryEventSent, msg, gw, outcome.ProviderMessageID, ""))
	return ResultSent, nil
}

// retryOrFail schedules another attempt unless the failure is permanent or
// the claim used the last allowed attempt.
func (e *Engine) retryOrFail(ctx context.Context, log types.Logger, msg *types.Message, gw *types.Gateway, reason string, permanent bool) (Result, error) {
	if permanent || msg.RetryCount >= e.policy.MaxRetries {
		return e.fail(ctx, log, msg, gw, reason)
	}

	now := e.now(ctx)
	next := now.Add(e.policy.RetryBackoff)
	ok, err := e.messages.MarkRetry(ctx, msg.ID, reason, next, now)
	if err != nil {
		return ResultRetry, fmt.Errorf("mark message %s for retry: %w", msg.ID, err)
	}
	if !ok {
		log.Warn("message left processing before retry could be recorded")
	}

	log.Warn("delivery failed, will retry", "reason", reason, "next_retry", next)
	e.metrics.RecordDispatch(ctx, providerOf(gw), ResultRetry)
	return ResultRetry, nil
}

func (e *Engine) fail(ctx context.Context, log types.Logger, msg *types.Message, gw *types.Gateway, reason string) (Result, error) {
	ok, err := e.messages.MarkFailed(ctx, msg.ID, reason, e.now(ctx))
	if err != nil {
		return ResultFailed, fmt.Errorf("mark message %s failed: %w", msg.ID, err)
	}
	if !ok {
		log.Warn("message left processing before failure could be recorded")
	}

	log.Error("delivery permanently failed", "reason", reason)
	e.metrics.RecordDispatch(ctx, providerOf(gw), ResultFailed)
	e.publish(ctx, log, e.event(ctx, types.DeliveryEventFailed, msg, gw, "", reason))
	return ResultFailed, nil
}

func (e *Engine) event(ctx context.Context, typ types.DeliveryEventType, msg *types.Message, gw *types.Gateway, providerMessageID, reason string) types.DeliveryEvent {
	evt := types.DeliveryEvent{
		Type:              typ,
		MessageID:         msg.ID,
		UserID:            msg.UserID,
		GatewayID:         msg.GatewayID,
		ProviderMessageID: providerMessageID,
		RetryCount:        msg.RetryCount,
		Reason:            reason,
		OccurredAt:        e.now(ctx),
	}
	if gw != nil {
		evt.Provider = gw.Provider
	}
	return evt
}

func (e *Engine) publish(ctx context.Context, log types.Logger, evt types.DeliveryEvent) {
	if err := e.events.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish delivery event", "type", string(evt.Type), "error", err)
	}
}

func (e *Engine) now(ctx context.Context) time.Time {
	if t, ok := types.GetReferenceTime(ctx); ok {
		return t
	}
	return e.clock.Now()
}

func providerOf(gw *types.Gateway) types.GatewayProvider {
	if gw == nil {
		return unknownProvider
	}
	return gw.Provider
}

// failureReason picks the text stored in error_message.
func failureReason(outcome types.SendOutcome, err error) string {
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return appErr.Message
		}
		return err.Error()
	}
	if outcome.Reason != "" {
		return outcome.Reason
	}
	return fmt.Sprintf("Gateway rejected message (status %d)", outcome.StatusCode)
}

// isConfigurationError reports send errors caused by the gateway row itself.
// Retrying cannot fix them.
func isConfigurationError(err error) bool {
	switch types.ErrorCodeOf(err) {
	case types.ErrCodeValidationUnknownProvider, types.ErrCodeValidationGatewayConfig:
		return true
	}
	return false
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, types.DeliveryEvent) error { return nil }
