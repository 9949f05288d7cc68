package db

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"smsdispatch/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockDBTX) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(pgx.Tx), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Mock Tx ---

// mockTx overrides the pgx.Tx methods the ledger uses. The embedded nil
// interface panics if anything else is called.
type mockTx struct {
	pgx.Tx
	mock.Mock
}

func (t *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := t.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (t *mockTx) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := t.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (t *mockTx) Commit(ctx context.Context) error {
	return t.Called(ctx).Error(0)
}

func (t *mockTx) Rollback(ctx context.Context) error {
	return t.Called(ctx).Error(0)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// rowOf returns a mockRow that scans values positionally.
func rowOf(values ...any) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error { return assignAll(dest, values) }}
}

// --- Mock Rows ---

type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return assignAll(dest, r.data[r.idx])
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// assignAll copies values into scan destinations. A nil value zeroes the destination.
func assignAll(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Type()) {
			if !v.Type().ConvertibleTo(target.Type()) {
				return fmt.Errorf("scan: column %d: cannot assign %s to %s", i, v.Type(), target.Type())
			}
			v = v.Convert(target.Type())
		}
		target.Set(v)
	}
	return nil
}

// messageRow lays out m in messageColumns order.
func messageRow(m types.Message) []any {
	return []any{
		m.ID,
		m.UserID,
		m.SenderID,
		m.GatewayID,
		m.Recipient,
		m.Body,
		m.ScheduledFor,
		string(m.Status),
		m.RetryCount,
		m.LastAttempt,
		m.NextRetry,
		m.ErrorMessage,
		m.ProviderMessageID,
		m.SentAt,
		m.CreatedAt,
		m.UpdatedAt,
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrString(s string) *string     { return &s }
