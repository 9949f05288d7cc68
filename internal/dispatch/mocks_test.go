package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smsdispatch/internal/cache"
	"smsdispatch/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// movingClock is a clock tests advance between attempts.
type movingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *movingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mockLogger records messages for verification.
type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *mockLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }
func (l *mockLogger) With(_ ...any) types.Logger { return l }

// transition is one write the engine made through the message store.
type transition struct {
	op        string
	id        string
	reason    string
	nextRetry time.Time
	pmid      string
}

// mockMessageStore keeps rows in memory and applies the same conditional
// rules as the repository.
type mockMessageStore struct {
	mu          sync.Mutex
	rows        map[string]*types.Message
	transitions []transition
	claimErr    error
	markErr     error
}

func newMockMessageStore(msgs ...types.Message) *mockMessageStore {
	s := &mockMessageStore{rows: map[string]*types.Message{}}
	for i := range msgs {
		m := msgs[i]
		s.rows[m.ID] = &m
	}
	return s
}

func (s *mockMessageStore) row(id string) types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *mockMessageStore) Claim(_ context.Context, id string, now time.Time, maxRetries int) (*types.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, false, s.claimErr
	}
	m, ok := s.rows[id]
	if !ok || !m.IsDue(now) || m.RetryCount >= maxRetries {
		return nil, false, nil
	}
	m.Status = types.MessageStatusProcessing
	m.RetryCount++
	m.LastAttempt = &now
	s.transitions = append(s.transitions, transition{op: "claim", id: id})
	claimed := *m
	return &claimed, true, nil
}

func (s *mockMessageStore) FailExhausted(_ context.Context, id string, reason string, now time.Time, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.rows[id]
	if m == nil || !m.Status.IsDispatchable() || m.RetryCount < maxRetries {
		return false, nil
	}
	m.Status = types.MessageStatusFailed
	m.ErrorMessage = &reason
	s.transitions = append(s.transitions, transition{op: "fail_exhausted", id: id, reason: reason})
	return true, nil
}

func (s *mockMessageStore) MarkSent(_ context.Context, id string, now time.Time, pmid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	m := s.rows[id]
	if m == nil || m.Status != types.MessageStatusProcessing {
		return false, nil
	}
	m.Status = types.MessageStatusSent
	m.SentAt = &now
	m.ErrorMessage = nil
	m.NextRetry = nil
	if pmid != "" {
		m.ProviderMessageID = &pmid
	}
	s.transitions = append(s.transitions, transition{op: "sent", id: id, pmid: pmid})
	return true, nil
}

func (s *mockMessageStore) MarkRetry(_ context.Context, id string, reason string, next time.Time, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	m := s.rows[id]
	if m == nil || m.Status != types.MessageStatusProcessing {
		return false, nil
	}
	m.Status = types.MessageStatusRetry
	m.ErrorMessage = &reason
	m.NextRetry = &next
	s.transitions = append(s.transitions, transition{op: "retry", id: id, reason: reason, nextRetry: next})
	return true, nil
}

func (s *mockMessageStore) MarkFailed(_ context.Context, id string, reason string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return false, s.markErr
	}
	m := s.rows[id]
	if m == nil || m.Status != types.MessageStatusProcessing {
		return false, nil
	}
	m.Status = types.MessageStatusFailed
	m.ErrorMessage = &reason
	m.NextRetry = nil
	s.transitions = append(s.transitions, transition{op: "failed", id: id, reason: reason})
	return true, nil
}

type mockGatewayStore struct {
	gateways map[string]*types.Gateway
	err      error
}

func (s *mockGatewayStore) GetByID(_ context.Context, id string) (*types.Gateway, error) {
	if s.err != nil {
		return nil, s.err
	}
	gw, ok := s.gateways[id]
	if !ok {
		return nil, types.ErrGatewayNotFound
	}
	return gw, nil
}

// mockLedger holds balances and tracks reservations.
type mockLedger struct {
	mu       sync.Mutex
	balances map[string]int
	err      error
	commits  int
	releases int
}

func (l *mockLedger) Reserve(_ context.Context, userID string) (types.CreditReservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	bal, ok := l.balances[userID]
	if !ok {
		return nil, types.ErrUserNotFound
	}
	if bal <= 0 {
		return nil, types.ErrInsufficientCredits
	}
	return &mockReservation{ledger: l, userID: userID}, nil
}

func (l *mockLedger) balance(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type mockReservation struct {
	ledger *mockLedger
	userID string
	done   bool
}

func (r *mockReservation) Commit(context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	r.ledger.balances[r.userID]--
	r.ledger.commits++
	return nil
}

func (r *mockReservation) Release(context.Context) error {
	if r.done {
		return nil
	}
	r.done = true
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	r.ledger.releases++
	return nil
}

type mockSender struct {
	mu      sync.Mutex
	outcome types.SendOutcome
	err     error
	calls   []types.OutboundSMS
}

func (s *mockSender) Send(_ context.Context, _ *types.Gateway, msg types.OutboundSMS) (types.SendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	return s.outcome, s.err
}

func (s *mockSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type mockReceipts struct {
	stored []cache.Receipt
	err    error
}

func (r *mockReceipts) StoreReceipt(_ context.Context, rc cache.Receipt) error {
	r.stored = append(r.stored, rc)
	return r.err
}

type mockPublisher struct {
	mu     sync.Mutex
	events []types.DeliveryEvent
	err    error
}

func (p *mockPublisher) Publish(_ context.Context, evt types.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type mockMetrics struct {
	mu       sync.Mutex
	dispatch []string
}

func (m *mockMetrics) RecordDispatch(_ context.Context, p types.GatewayProvider, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatch = append(m.dispatch, fmt.Sprintf("%s/%s", p, r))
}
func (m *mockMetrics) RecordGatewayLatency(context.Context, types.GatewayProvider, time.Duration) {}
func (m *mockMetrics) RecordSchedulerRun(context.Context, string, int, int)                       {}
func (m *mockMetrics) RecordReclaimed(context.Context, int)                                       {}
