package db

import (
	"context"
	"time"

	"smsdispatch/internal/types"
)

// JobStatus values written to job_history.status.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
	JobStatusSkipped = "skipped"
)

// JobLockRepository de-duplicates cron invocations through the job_locks
// table. A lock id names a task and its schedule window (for example
// "process_scheduled:2026-03-01T12:05"), so a redelivered EventBridge event
// for the same window finds the lock held.
type JobLockRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobLockRepository creates a new JobLockRepository.
func NewJobLockRepository(db DBTX, clock types.Clock) *JobLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobLockRepository{db: db, clock: clock}
}

// Acquire inserts the lock row or takes over an expired one. It reports
// false when another worker holds an unexpired lock with the same id.
//
// expires_at is computed in Go; Go duration strings ("15m0s") are not valid
// PostgreSQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Purge removes locks that expired before cutoff.
func (r *JobLockRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_locks WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge job locks", err)
	}
	return tag.RowsAffected(), nil
}

// JobHistoryRepository records each cron task execution in job_history.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running row and returns its id.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes a history row with its outcome and item count.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
