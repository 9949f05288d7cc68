package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used by the dispatch pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// CreditReservation is a held claim on one user credit. Commit charges it,
// Release returns it. Only the first of the two calls takes effect.
type CreditReservation interface {
	Commit(ctx context.Context) error
	Release(ctx context.Context) error
}
