package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleMessage(id string, status types.MessageStatus) types.Message {
	return types.Message{
		ID:        id,
		UserID:    "user-1",
		SenderID:  "ACME",
		GatewayID: "gw-1",
		Recipient: "+15550001111",
		Body:      "hello",
		Status:    status,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func TestMessageRepository_SelectDue_ScansRowsInOrder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	first := sampleMessage("m-1", types.MessageStatusPending)
	second := sampleMessage("m-2", types.MessageStatusRetry)
	second.RetryCount = 1
	second.NextRetry = ptrTime(testNow.Add(-time.Minute))
	second.ErrorMessage = ptrString("HTTP 500")
	second.ScheduledFor = ptrTime(testNow.Add(-time.Hour))

	rows := newMockRows([][]any{messageRow(first), messageRow(second)})
	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ORDER BY scheduled_for ASC NULLS FIRST, created_at ASC, id ASC") &&
			strings.Contains(sql, "LIMIT $2")
	}), []any{testNow, 50}).Return(rows, nil)

	got, err := repo.SelectDue(context.Background(), testNow, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "m-1", got[0].ID)
	assert.Equal(t, types.MessageStatusPending, got[0].Status)
	assert.Nil(t, got[0].ScheduledFor)

	assert.Equal(t, "m-2", got[1].ID)
	assert.Equal(t, types.MessageStatusRetry, got[1].Status)
	assert.Equal(t, 1, got[1].RetryCount)
	require.NotNil(t, got[1].ErrorMessage)
	assert.Equal(t, "HTTP 500", *got[1].ErrorMessage)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestMessageRepository_SelectDue_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	got, err := repo.SelectDue(context.Background(), testNow, 10)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, types.ErrCodeInternalDB, types.ErrorCodeOf(err))
}

func TestMessageRepository_SelectDue_IterationError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	rows := newMockRows(nil)
	rows.errVal = errors.New("conn reset")
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.SelectDue(context.Background(), testNow, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error iterating messages")
}

func TestMessageRepository_Claim_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	claimed := sampleMessage("m-1", types.MessageStatusProcessing)
	claimed.RetryCount = 1
	claimed.LastAttempt = ptrTime(testNow)

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "SET status = 'processing'") &&
			strings.Contains(sql, "retry_count = retry_count + 1") &&
			strings.Contains(sql, "retry_count < $3") &&
			strings.Contains(sql, "RETURNING")
	}), []any{testNow, "m-1", 3}).Return(rowOf(messageRow(claimed)...))

	got, ok, err := repo.Claim(context.Background(), "m-1", testNow, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.MessageStatusProcessing, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, testNow, *got.LastAttempt)
	db.AssertExpectations(t)
}

func TestMessageRepository_Claim_NotEligible(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, ok, err := repo.Claim(context.Background(), "m-1", testNow, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestMessageRepository_Claim_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("deadlock detected")})

	_, ok, err := repo.Claim(context.Background(), "m-1", testNow, 3)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, types.ErrCodeInternalDB, types.ErrorCodeOf(err))
}

func TestMessageRepository_TerminalWritesAreConditional(t *testing.T) {
	tests := []struct {
		name     string
		wantSQL  []string
		wantArgs []any
		call     func(r *MessageRepository) (bool, error)
	}{
		{
			name:     "MarkSent",
			wantSQL:  []string{"status = 'sent'", "error_message = NULL", "WHERE id = $1 AND status = 'processing'"},
			wantArgs: []any{"m-1", testNow, ptrString("SM123")},
			call: func(r *MessageRepository) (bool, error) {
				return r.MarkSent(context.Background(), "m-1", testNow, "SM123")
			},
		},
		{
			name:     "MarkRetry",
			wantSQL:  []string{"status = 'retry'", "next_retry = $3", "WHERE id = $1 AND status = 'processing'"},
			wantArgs: []any{"m-1", "HTTP 503", testNow.Add(5 * time.Minute), testNow},
			call: func(r *MessageRepository) (bool, error) {
				return r.MarkRetry(context.Background(), "m-1", "HTTP 503", testNow.Add(5*time.Minute), testNow)
			},
		},
		{
			name:     "MarkFailed",
			wantSQL:  []string{"status = 'failed'", "next_retry = NULL", "WHERE id = $1 AND status = 'processing'"},
			wantArgs: []any{"m-1", "Gateway not found", testNow},
			call: func(r *MessageRepository) (bool, error) {
				return r.MarkFailed(context.Background(), "m-1", "Gateway not found", testNow)
			},
		},
		{
			name:     "FailExhausted",
			wantSQL:  []string{"status = 'failed'", "status IN ('pending', 'scheduled', 'retry')", "retry_count >= $4"},
			wantArgs: []any{"m-1", "Exceeded maximum retry attempts", testNow, 3},
			call: func(r *MessageRepository) (bool, error) {
				return r.FailExhausted(context.Background(), "m-1", "Exceeded maximum retry attempts", testNow, 3)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewMessageRepository(db)

			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				for _, frag := range tc.wantSQL {
					if !strings.Contains(sql, frag) {
						return false
					}
				}
				return true
			}), tc.wantArgs).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

			ok, err := tc.call(repo)
			require.NoError(t, err)
			assert.True(t, ok)
			db.AssertExpectations(t)
		})
	}
}

func TestMessageRepository_MarkSent_LostRace(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	ok, err := repo.MarkSent(context.Background(), "m-1", testNow, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageRepository_MarkSent_EmptyProviderIDStoredAsNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		pmid, ok := args[2].(*string)
		return ok && pmid == nil
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	_, err := repo.MarkSent(context.Background(), "m-1", testNow, "")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestMessageRepository_MarkFailed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	ok, err := repo.MarkFailed(context.Background(), "m-1", "x", testNow)
	require.Error(t, err)
	assert.False(t, ok)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestMessageRepository_ListStuck(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	cutoff := testNow.Add(-5 * time.Minute)
	stuck := sampleMessage("m-9", types.MessageStatusProcessing)
	stuck.RetryCount = 2
	stuck.LastAttempt = ptrTime(testNow.Add(-10 * time.Minute))

	db.On("Query", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "status = 'processing'") &&
			strings.Contains(sql, "last_attempt IS NULL OR last_attempt < $1")
	}), []any{cutoff, 100}).Return(newMockRows([][]any{messageRow(stuck)}), nil)

	got, err := repo.ListStuck(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].RetryCount)
	db.AssertExpectations(t)
}

func TestMessageRepository_ResetStuck(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	cutoff := testNow.Add(-5 * time.Minute)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CASE WHEN retry_count > 0 THEN 'retry' ELSE 'pending' END") &&
			!strings.Contains(sql, "retry_count =") &&
			strings.Contains(sql, "AND status = 'processing'")
	}), []any{"m-9", cutoff, testNow, "Reset due to timeout"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	ok, err := repo.ResetStuck(context.Background(), "m-9", cutoff, testNow, "Reset due to timeout")
	require.NoError(t, err)
	assert.True(t, ok)
	db.AssertExpectations(t)
}

func TestMessageRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"missing"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrMessageNotFound)
}

func TestMessageRepository_CountByStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewMessageRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"sent", 7}, {"retry", 2}}), nil)

	got, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got[types.MessageStatusSent])
	assert.Equal(t, 2, got[types.MessageStatusRetry])
}
