// Package main is the entrypoint for the dispatcher Lambda function.
//
// EventBridge rules invoke it with a TriggerPayload: "process_scheduled"
// every minute and "reclaim_stuck" every five minutes. Each invocation:
//  1. Determines the reference time (payload override or now).
//  2. Acquires a job lock keyed by task and window so a redelivered event
//     for the same window is skipped.
//  3. Records job history around the task run.
//  4. Runs the task through the shared TaskRunner.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"smsdispatch/internal/app"
	"smsdispatch/internal/config"
	"smsdispatch/internal/db"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/scheduler"
	"smsdispatch/internal/types"
)

const (
	// lockTTL outlives the longest task window so a slow run is not
	// duplicated by the next delivery of the same event.
	lockTTL = 15 * time.Minute

	// lockRetention is how long expired lock rows are kept before the
	// reclaim task purges them.
	lockRetention = 24 * time.Hour

	lockWindowLayout = "2006-01-02T15:04"
)

// TaskRunner runs one scheduler task.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the dispatcher Lambda handler.
type Handler struct {
	Runner     TaskRunner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
	Clock      types.Clock
}

// Handle runs the task named by payload once per window.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TriggerPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	now := clock.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "dispatcher invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if !payload.Task.Valid() {
		return "", fmt.Errorf("unknown task type in trigger payload: %q", payload.Task)
	}

	lockID := LockID(payload.Task, now)
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock", "lock_id", lockID, "error", err)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		// History is for operators; the run proceeds without it.
		logger.ErrorContext(ctx, "failed to start job history", "task", taskStr, "error", err)
		jobID = 0
	}

	items, execErr := h.Runner.Run(scheduler.WithSource(ctx, scheduler.SourceCron), payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed", "task", taskStr, "error", execErr)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	if payload.Task == scheduler.TaskReclaimStuck {
		h.purgeLocks(ctx, logger, now)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result, "task", taskStr, "items", items)
	return result, nil
}

func (h *Handler) purgeLocks(ctx context.Context, logger *slog.Logger, now time.Time) {
	n, err := h.JobLock.Purge(ctx, now.Add(-lockRetention))
	if err != nil {
		logger.WarnContext(ctx, "failed to purge expired job locks", "error", err)
		return
	}
	if n > 0 {
		logger.InfoContext(ctx, "purged expired job locks", "count", n)
	}
}

// LockID keys a job lock by task and the start of the task's window, e.g.
// "process_scheduled:2026-03-01T12:05".
func LockID(task scheduler.TaskType, now time.Time) string {
	return fmt.Sprintf("%s:%s", task, now.Truncate(task.Window()).Format(lockWindowLayout))
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("dispatcher Lambda initializing (cold start)")

	handler, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("dispatcher initialization failed", "error", err)
		os.Exit(1)
	}

	logger.Info("dispatcher Lambda initialized", "worker_id", handler.WorkerID)
	lambda.Start(handler.Handle)
}

// newHandler loads configuration and wires the pipeline once per cold start.
func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger = newLogger(cfg.LogLevel)

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pipeline, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("wiring pipeline: %w", err)
	}

	return &Handler{
		Runner:     pipeline.Runner,
		JobLock:    db.NewJobLockRepository(pipeline.Pool, nil),
		JobHistory: db.NewJobHistoryRepository(pipeline.Pool),
		WorkerID:   uuid.NewString(),
		Logger:     logger,
	}, nil
}

// newMetrics returns CloudWatch metrics when enabled, otherwise nil so the
// engine falls back to no-op metrics.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Metrics, error) {
	if !cfg.Observability.CloudWatchMetrics {
		return nil, nil
	}
	awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return dispatch.NewCloudWatchMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		types.NewSlogLogger(logger.With("component", "metrics")),
	), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
