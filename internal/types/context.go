package types

import (
	"context"
	"time"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeOperator ActorType = "operator"
	ActorTypeSystem   ActorType = "system"
)

// Actor represents the authenticated entity triggering an operation.
type Actor struct {
	ID     string
	Type   ActorType
	Source string // Origin of the trigger (e.g., "http", "cron", "ticker").
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	refTimeKey   contextKey = "reference_time"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithReferenceTime stores the instant a scheduler pass selected against, so
// downstream due checks and backoff use the same "now".
func WithReferenceTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, refTimeKey, t)
}

// GetReferenceTime retrieves the reference time from the context.
func GetReferenceTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(refTimeKey).(time.Time)
	return t, ok
}

// WithLogger stores a Logger in the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the Logger from the context.
// The returned logger is expected to have been enriched with request-scoped
// fields by middleware. Returns nil if no logger has been set.
func LoggerFromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return nil
}
