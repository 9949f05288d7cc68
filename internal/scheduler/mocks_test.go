package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"smsdispatch/internal/dispatch"
	"smsdispatch/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// stepClock advances by step on every call to Now.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type mockSelector struct {
	msgs      []types.Message
	err       error
	lastNow   time.Time
	lastLimit int
}

func (m *mockSelector) SelectDue(_ context.Context, now time.Time, limit int) ([]types.Message, error) {
	m.lastNow = now
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if len(m.msgs) > limit {
		return m.msgs[:limit], nil
	}
	return m.msgs, nil
}

// mockAttempter returns results keyed by message id, defaulting to sent.
type mockAttempter struct {
	mu       sync.Mutex
	results  map[string]dispatch.Result
	errs     map[string]error
	panics   map[string]bool
	attempts []string
	refTimes []time.Time
	delay    time.Duration

	inFlight    int
	maxInFlight int
}

func (m *mockAttempter) Attempt(ctx context.Context, msg types.Message) (dispatch.Result, error) {
	m.mu.Lock()
	m.attempts = append(m.attempts, msg.ID)
	if ref, ok := types.GetReferenceTime(ctx); ok {
		m.refTimes = append(m.refTimes, ref)
	}
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panics[msg.ID] {
		panic("boom")
	}
	r, ok := m.results[msg.ID]
	if !ok {
		r = dispatch.ResultSent
	}
	return r, m.errs[msg.ID]
}

func (m *mockAttempter) attempted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.attempts...)
}

type schedulerRun struct {
	trigger   string
	processed int
	deferred  int
}

type mockMetrics struct {
	dispatch.NoopMetrics
	mu        sync.Mutex
	runs      []schedulerRun
	reclaimed []int
}

func (m *mockMetrics) RecordSchedulerRun(_ context.Context, trigger string, processed, deferred int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, schedulerRun{trigger, processed, deferred})
}

func (m *mockMetrics) RecordReclaimed(_ context.Context, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimed = append(m.reclaimed, n)
}

type resetCall struct {
	id     string
	cutoff time.Time
	reason string
}

type mockStuckStore struct {
	stuck      []types.Message
	listErr    error
	resetErr   map[string]error
	notReset   map[string]bool
	listCutoff time.Time
	listLimit  int
	resets     []resetCall
}

func (m *mockStuckStore) ListStuck(_ context.Context, cutoff time.Time, limit int) ([]types.Message, error) {
	m.listCutoff = cutoff
	m.listLimit = limit
	return m.stuck, m.listErr
}

func (m *mockStuckStore) ResetStuck(_ context.Context, id string, cutoff time.Time, _ time.Time, reason string) (bool, error) {
	m.resets = append(m.resets, resetCall{id: id, cutoff: cutoff, reason: reason})
	if err := m.resetErr[id]; err != nil {
		return false, err
	}
	return !m.notReset[id], nil
}

func messages(ids ...string) []types.Message {
	out := make([]types.Message, len(ids))
	for i, id := range ids {
		out[i] = types.Message{ID: id, Status: types.MessageStatusPending}
	}
	return out
}
