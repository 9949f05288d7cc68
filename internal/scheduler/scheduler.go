package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"smsdispatch/internal/config"
	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/types"
)

// DueSelector returns messages eligible for dispatch at now.
type DueSelector interface {
	SelectDue(ctx context.Context, now time.Time, limit int) ([]types.Message, error)
}

// Attempter runs one delivery attempt. *dispatch.Engine implements it.
type Attempter interface {
	Attempt(ctx context.Context, msg types.Message) (dispatch.Result, error)
}

// Options bounds a single scheduler pass.
type Options struct {
	BatchSize   int
	TimeBudget  time.Duration
	Concurrency int
}

// OptionsFromConfig maps the scheduler section of the process config.
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		BatchSize:   cfg.BatchSize,
		TimeBudget:  cfg.TimeBudget,
		Concurrency: cfg.Concurrency,
	}
}

// RunResult summarizes one pass. Processed is Sent+Retrying+Failed.
type RunResult struct {
	Selected  int
	Processed int
	Sent      int
	Retrying  int
	Failed    int
	Skipped   int
	Deferred  int
	Errors    int
}

// Scheduler selects due messages and hands each to the engine.
type Scheduler struct {
	messages DueSelector
	engine   Attempter
	metrics  dispatch.Metrics
	clock    types.Clock
	logger   *slog.Logger
	opts     Options
}

// NewScheduler creates a Scheduler. metrics and clock may be nil.
func NewScheduler(messages DueSelector, engine Attempter, metrics dispatch.Metrics, clock types.Clock, logger *slog.Logger, opts Options) *Scheduler {
	if metrics == nil {
		metrics = dispatch.NoopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		messages: messages,
		engine:   engine,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		opts:     opts,
	}
}

// RunOnce dispatches the messages due at now.
//
// Once the time budget elapses no further attempt starts; the remaining
// messages are counted as Deferred and stay eligible for the next pass. A
// failing or panicking attempt is logged and does not stop the pass. Only a
// selection failure is returned as an error.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (RunResult, error) {
	start := s.clock.Now()
	trigger := sourceOf(ctx)
	logger := s.logger.With("trigger", trigger)

	due, err := s.messages.SelectDue(ctx, now, s.opts.BatchSize)
	if err != nil {
		logger.ErrorContext(ctx, "failed to select due messages", "error", err)
		return RunResult{}, fmt.Errorf("selecting due messages: %w", err)
	}
	// Claims must judge due-ness against the same instant as the selection.
	ctx = types.WithReferenceTime(ctx, now)

	var (
		mu  sync.Mutex
		res = RunResult{Selected: len(due)}
	)
	record := func(r dispatch.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Errors++
		}
		switch r {
		case dispatch.ResultSent:
			res.Sent++
		case dispatch.ResultRetry:
			res.Retrying++
		case dispatch.ResultFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	deferred := func() {
		mu.Lock()
		res.Deferred++
		mu.Unlock()
	}

	if s.opts.Concurrency == 1 {
		for _, msg := range due {
			if s.overBudget(ctx, start) {
				deferred()
				continue
			}
			record(s.attempt(ctx, logger, msg))
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(s.opts.Concurrency)
		for _, msg := range due {
			g.Go(func() error {
				if s.overBudget(ctx, start) {
					deferred()
					return nil
				}
				record(s.attempt(ctx, logger, msg))
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Processed = res.Sent + res.Retrying + res.Failed
	s.metrics.RecordSchedulerRun(ctx, trigger, res.Processed, res.Deferred)

	logger.InfoContext(ctx, "scheduler pass complete",
		"selected", res.Selected,
		"processed", res.Processed,
		"sent", res.Sent,
		"retrying", res.Retrying,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"deferred", res.Deferred,
		"errors", res.Errors,
		"duration_ms", s.clock.Now().Sub(start).Milliseconds(),
	)
	return res, nil
}

func (s *Scheduler) overBudget(ctx context.Context, start time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.opts.TimeBudget > 0 && s.clock.Now().Sub(start) >= s.opts.TimeBudget
}

// attempt isolates one message: errors are logged and panics recovered.
func (s *Scheduler) attempt(ctx context.Context, logger *slog.Logger, msg types.Message) (result dispatch.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "dispatch attempt panic recovered",
				"message_id", msg.ID,
				"panic", r,
			)
			result = dispatch.ResultSkipped
			err = fmt.Errorf("panic dispatching message %s: %v", msg.ID, r)
		}
	}()

	result, err = s.engine.Attempt(ctx, msg)
	if err != nil {
		logger.ErrorContext(ctx, "dispatch attempt failed",
			"message_id", msg.ID,
			"result", string(result),
			"error", err,
		)
	}
	return result, err
}
