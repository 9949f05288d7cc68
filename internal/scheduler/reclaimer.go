package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/types"
)

// ReclaimReason is written to error_message on reset rows.
const ReclaimReason = "Reset due to timeout"

// StuckStore lists and resets messages abandoned in processing.
type StuckStore interface {
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]types.Message, error)
	ResetStuck(ctx context.Context, id string, cutoff time.Time, now time.Time, reason string) (bool, error)
}

// Reclaimer recovers messages left in processing by a crashed or timed-out
// invocation.
type Reclaimer struct {
	store      StuckStore
	metrics    dispatch.Metrics
	logger     *slog.Logger
	staleAfter time.Duration
	limit      int
}

// NewReclaimer creates a Reclaimer. Messages whose last attempt is older
// than staleAfter are reset, at most limit per sweep.
func NewReclaimer(store StuckStore, metrics dispatch.Metrics, logger *slog.Logger, staleAfter time.Duration, limit int) *Reclaimer {
	if metrics == nil {
		metrics = dispatch.NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 500
	}
	return &Reclaimer{
		store:      store,
		metrics:    metrics,
		logger:     logger,
		staleAfter: staleAfter,
		limit:      limit,
	}
}

// Reclaim resets stuck messages and returns how many were reset. A row with
// attempts becomes retry and is immediately eligible; one without becomes
// pending. retry_count is preserved. Per-row failures are logged and skipped.
func (r *Reclaimer) Reclaim(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.staleAfter)

	stuck, err := r.store.ListStuck(ctx, cutoff, r.limit)
	if err != nil {
		return 0, fmt.Errorf("listing stuck messages: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	reset := 0
	for _, msg := range stuck {
		ok, err := r.store.ResetStuck(ctx, msg.ID, cutoff, now, ReclaimReason)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to reset stuck message",
				"message_id", msg.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			// Completed or reclaimed elsewhere since ListStuck.
			continue
		}
		reset++
	}

	r.metrics.RecordReclaimed(ctx, reset)
	r.logger.InfoContext(ctx, "stuck messages reclaimed",
		"found", len(stuck),
		"reset", reset,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return reset, nil
}
