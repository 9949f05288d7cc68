package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Ticker runs fn every interval on a single goroutine, so ticks never
// overlap. A tick that runs longer than the interval delays the next one.
type Ticker struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	logger   *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTicker validates its arguments. fn receives a context that is
// cancelled by Stop.
func NewTicker(name string, interval time.Duration, fn func(context.Context), logger *slog.Logger) (*Ticker, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if fn == nil {
		return nil, errors.New("fn must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With("ticker", name),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the loop with an immediate first tick. It returns false if
// the ticker is already running.
func (t *Ticker) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(WithSource(context.Background(), SourceTicker))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running.Store(true)

	go func() {
		defer close(t.done)

		tk := time.NewTicker(t.interval)
		defer tk.Stop()

		t.logger.Info("ticker started", "interval", t.interval.String())

		t.safeTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				t.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return. It
// returns false if the ticker was not running.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running.Load() {
		return false
	}

	t.cancel()
	<-t.done
	t.running.Store(false)

	t.logger.Info("ticker stopped")
	return true
}

func (t *Ticker) IsRunning() bool {
	return t.running.Load()
}

func (t *Ticker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("ticker tick panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	t.fn(ctx)
	t.logger.Debug("ticker tick completed", "duration_ms", time.Since(start).Milliseconds())
}

// SchedulerTick adapts a Scheduler to a Ticker function.
func SchedulerTick(s *Scheduler) func(context.Context) {
	return func(ctx context.Context) {
		_, _ = s.RunOnce(ctx, time.Now().UTC())
	}
}

// ReclaimTick adapts a Reclaimer to a Ticker function.
func ReclaimTick(r *Reclaimer) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := r.Reclaim(ctx, time.Now().UTC()); err != nil {
			r.logger.ErrorContext(ctx, "reclaim tick failed", "error", err)
		}
	}
}
