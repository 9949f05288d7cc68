// Package scheduler drives the dispatch engine on a schedule.
//
// Scheduler.RunOnce selects due messages and attempts each one. Reclaimer
// returns messages abandoned in processing to a dispatchable state. Both are
// called from three places: the in-process Ticker in cmd/api, the cron
// Lambda in cmd/dispatcher, and the manual trigger endpoints in core.
package scheduler

import (
	"context"
	"time"

	"smsdispatch/internal/types"
)

// TaskType identifies which job a cron event or operator invocation runs.
type TaskType string

const (
	TaskProcessScheduled TaskType = "process_scheduled"
	TaskReclaimStuck     TaskType = "reclaim_stuck"
)

// Window returns the schedule period of the task. Cron locks are keyed by
// the reference time truncated to it.
func (t TaskType) Window() time.Duration {
	switch t {
	case TaskReclaimStuck:
		return 5 * time.Minute
	default:
		return time.Minute
	}
}

// Valid reports whether t names a known task.
func (t TaskType) Valid() bool {
	return t == TaskProcessScheduled || t == TaskReclaimStuck
}

// AllTasks lists every task in the order the operator CLI prints them.
var AllTasks = []TaskType{TaskProcessScheduled, TaskReclaimStuck}

// TriggerPayload is the JSON sent by EventBridge to the dispatcher Lambda
// and built by the job-runner CLI.
//
//	{
//	  "task": "process_scheduled",
//	  "reference_time": "2026-03-01T12:05:00Z"  // optional
//	}
type TriggerPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual runs. Nil means time.Now().UTC().
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Trigger sources recorded on the context Actor and used as the metrics
// trigger label.
const (
	SourceTicker = "ticker"
	SourceCron   = "cron"
	SourceHTTP   = "http"
	SourceCLI    = "cli"
)

// WithSource marks ctx as originating from a system trigger.
func WithSource(ctx context.Context, source string) context.Context {
	return types.WithActor(ctx, types.Actor{ID: source, Type: types.ActorTypeSystem, Source: source})
}

func sourceOf(ctx context.Context) string {
	if actor, ok := types.GetActor(ctx); ok && actor.Source != "" {
		return actor.Source
	}
	return "unknown"
}

// TaskRunner executes a task by name. The dispatcher Lambda, the job-runner
// CLI and the HTTP trigger handlers all go through it.
type TaskRunner struct {
	Scheduler *Scheduler
	Reclaimer *Reclaimer
}

// Run executes task at now and returns the number of items it handled:
// processed messages for TaskProcessScheduled, reset messages for
// TaskReclaimStuck.
func (r *TaskRunner) Run(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskProcessScheduled:
		res, err := r.Scheduler.RunOnce(ctx, now)
		return res.Processed, err
	case TaskReclaimStuck:
		return r.Reclaimer.Reclaim(ctx, now)
	default:
		return 0, types.NewAppError(types.ErrCodeValidationInvalidTask, "unknown task type: "+string(task), nil)
	}
}
