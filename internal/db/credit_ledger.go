package db

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"smsdispatch/internal/types"
)

// CreditLedger guards the per-user credit balance.
//
// Reserve opens a transaction and takes a row lock on the user before the
// gateway call. The lock is held until the reservation is committed (one
// credit is deducted) or released (nothing is deducted). Concurrent
// reservations for the same user therefore serialize, and a user with one
// credit can never be charged twice.
type CreditLedger struct {
	db TxDB
}

// NewCreditLedger creates a new CreditLedger.
func NewCreditLedger(db TxDB) *CreditLedger {
	return &CreditLedger{db: db}
}

// Reserve locks the user's balance and checks that at least one credit is
// available. It returns ErrUserNotFound or ErrInsufficientCredits without an
// open transaction.
func (l *CreditLedger) Reserve(ctx context.Context, userID string) (types.CreditReservation, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin credit transaction", err)
	}

	var credits int
	err = tx.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&credits)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrUserNotFound
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock user credits", err)
	}

	if credits <= 0 {
		_ = tx.Rollback(ctx)
		return nil, types.ErrInsufficientCredits
	}

	return &Reservation{tx: tx, userID: userID}, nil
}

// Balance returns the current credit balance without locking.
func (l *CreditLedger) Balance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := l.db.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.ErrUserNotFound
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read credits", err)
	}
	return credits, nil
}

var _ types.CreditReservation = (*Reservation)(nil)

// Reservation is a held credit lock for one send. Exactly one of Commit or
// Release takes effect; later calls are no-ops.
type Reservation struct {
	tx     pgx.Tx
	userID string

	mu   sync.Mutex
	done bool
}

// Commit deducts one credit and commits.
func (r *Reservation) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true

	tag, err := r.tx.Exec(ctx,
		`UPDATE users SET credits = credits - 1 WHERE id = $1 AND credits > 0`,
		r.userID,
	)
	if err != nil {
		_ = r.tx.Rollback(ctx)
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deduct credit", err)
	}
	if tag.RowsAffected() == 0 {
		_ = r.tx.Rollback(ctx)
		return types.ErrInsufficientCredits
	}
	if err := r.tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit credit deduction", err)
	}
	return nil
}

// Release drops the lock without charging.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true

	if err := r.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release credit reservation", err)
	}
	return nil
}
