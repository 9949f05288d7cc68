package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"smsdispatch/internal/types"
)

// messageColumns is the canonical column list for scanMessage.
const messageColumns = `id, user_id, sender_id, gateway_id, recipient, message,
	scheduled_for, status, retry_count, last_attempt, next_retry,
	error_message, provider_message_id, sent_at, created_at, updated_at`

// dueClause selects dispatchable rows whose schedule and backoff have elapsed at $1.
// Claim repeats it so a row another invocation already pushed into backoff is not claimed.
const dueClause = `(
	  (status IN ('pending', 'scheduled') AND (scheduled_for IS NULL OR scheduled_for <= $1))
	  OR (status = 'retry'
	      AND (scheduled_for IS NULL OR scheduled_for <= $1)
	      AND (next_retry IS NULL OR next_retry <= $1))
	)`

// MessageRepository owns every status transition of the messages table.
// Each write is a single conditional statement; the WHERE clause is the
// precondition and RowsAffected tells the caller whether it held.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*types.Message, error) {
	var (
		m      types.Message
		status string
	)
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.SenderID,
		&m.GatewayID,
		&m.Recipient,
		&m.Body,
		&m.ScheduledFor,
		&status,
		&m.RetryCount,
		&m.LastAttempt,
		&m.NextRetry,
		&m.ErrorMessage,
		&m.ProviderMessageID,
		&m.SentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Status = types.MessageStatus(status)
	return &m, nil
}

func (r *MessageRepository) queryMessages(ctx context.Context, op string, sql string, args ...any) ([]types.Message, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to "+op, err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan message", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating messages", err)
	}
	return out, nil
}

// SelectDue returns up to limit messages eligible for dispatch at now,
// earliest scheduled first with creation order breaking ties. Messages with
// no schedule sort ahead of scheduled ones.
func (r *MessageRepository) SelectDue(ctx context.Context, now time.Time, limit int) ([]types.Message, error) {
	return r.queryMessages(ctx, "select due messages",
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE `+dueClause+`
		 ORDER BY scheduled_for ASC NULLS FIRST, created_at ASC, id ASC
		 LIMIT $2`,
		now,
		limit,
	)
}

// GetByID returns a single message or ErrMessageNotFound.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*types.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrMessageNotFound
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get message", err)
	}
	return m, nil
}

// Claim atomically moves a due message into processing, increments
// retry_count and stamps last_attempt. It returns the claimed row, or
// claimed=false when the message is no longer dispatchable (claimed elsewhere,
// cancelled, backing off, or out of retries).
func (r *MessageRepository) Claim(ctx context.Context, id string, now time.Time, maxRetries int) (*types.Message, bool, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages
		 SET status = 'processing',
		     retry_count = retry_count + 1,
		     last_attempt = $1,
		     updated_at = $1
		 WHERE id = $2
		   AND retry_count < $3
		   AND `+dueClause+`
		 RETURNING `+messageColumns,
		now,
		id,
		maxRetries,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim message", err)
	}
	return m, true, nil
}

// FailExhausted moves a dispatchable message whose retry budget is spent
// straight to failed. No attempt is recorded.
func (r *MessageRepository) FailExhausted(ctx context.Context, id string, reason string, now time.Time, maxRetries int) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET status = 'failed', error_message = $2, next_retry = NULL, updated_at = $3
		 WHERE id = $1
		   AND status IN ('pending', 'scheduled', 'retry')
		   AND retry_count >= $4`,
		id,
		reason,
		now,
		maxRetries,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to fail exhausted message", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSent records provider acceptance. Only a processing row transitions.
func (r *MessageRepository) MarkSent(ctx context.Context, id string, now time.Time, providerMessageID string) (bool, error) {
	var pmid *string
	if providerMessageID != "" {
		pmid = &providerMessageID
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET status = 'sent', sent_at = $2, error_message = NULL, next_retry = NULL,
		     provider_message_id = $3, updated_at = $2
		 WHERE id = $1 AND status = 'processing'`,
		id,
		now,
		pmid,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark message sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRetry records a retryable failure and schedules the next attempt.
func (r *MessageRepository) MarkRetry(ctx context.Context, id string, reason string, nextRetry time.Time, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET status = 'retry', error_message = $2, next_retry = $3, updated_at = $4
		 WHERE id = $1 AND status = 'processing'`,
		id,
		reason,
		nextRetry,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark message for retry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a terminal failure. sent_at is never touched.
func (r *MessageRepository) MarkFailed(ctx context.Context, id string, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET status = 'failed', error_message = $2, next_retry = NULL, updated_at = $3
		 WHERE id = $1 AND status = 'processing'`,
		id,
		reason,
		now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark message failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListStuck returns processing messages whose last attempt is older than
// cutoff. A processing row without last_attempt is treated as stuck.
func (r *MessageRepository) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]types.Message, error) {
	return r.queryMessages(ctx, "list stuck messages",
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE status = 'processing'
		   AND (last_attempt IS NULL OR last_attempt < $1)
		 ORDER BY last_attempt ASC NULLS FIRST, id ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
}

// ResetStuck returns a stale processing message to a dispatchable state:
// retry (immediately eligible) when it has been attempted, pending otherwise.
// retry_count is preserved. The staleness predicate is re-checked so a
// message that completed since ListStuck is left alone.
func (r *MessageRepository) ResetStuck(ctx context.Context, id string, cutoff time.Time, now time.Time, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET status = CASE WHEN retry_count > 0 THEN 'retry' ELSE 'pending' END,
		     next_retry = CASE WHEN retry_count > 0 THEN $3::timestamptz ELSE NULL END,
		     error_message = $4,
		     updated_at = $3
		 WHERE id = $1
		   AND status = 'processing'
		   AND (last_attempt IS NULL OR last_attempt < $2)`,
		id,
		cutoff,
		now,
		reason,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reset stuck message", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByStatus returns the number of messages per status.
func (r *MessageRepository) CountByStatus(ctx context.Context) (map[types.MessageStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count messages", err)
	}
	defer rows.Close()

	counts := make(map[types.MessageStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count", err)
		}
		counts[types.MessageStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating status counts", err)
	}
	return counts, nil
}
