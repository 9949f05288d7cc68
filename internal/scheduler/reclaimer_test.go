package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReclaim_ResetsStuckMessages(t *testing.T) {
	store := &mockStuckStore{stuck: messages("m1", "m2")}
	metrics := &mockMetrics{}
	r := NewReclaimer(store, metrics, testLogger(), 5*time.Minute, 100)

	n, err := r.Reclaim(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wantCutoff := testNow.Add(-5 * time.Minute)
	assert.True(t, store.listCutoff.Equal(wantCutoff), "ListStuck cutoff = %v", store.listCutoff)
	assert.Equal(t, 100, store.listLimit)
	for _, call := range store.resets {
		assert.Equal(t, "Reset due to timeout", call.reason)
		assert.True(t, call.cutoff.Equal(wantCutoff), "ResetStuck cutoff = %v, want %v", call.cutoff, wantCutoff)
	}
	assert.Equal(t, []int{2}, metrics.reclaimed)
}

func TestReclaim_NothingStuck(t *testing.T) {
	store := &mockStuckStore{}
	metrics := &mockMetrics{}
	r := NewReclaimer(store, metrics, testLogger(), 5*time.Minute, 0)

	n, err := r.Reclaim(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 500, store.listLimit, "default limit")
	assert.Empty(t, metrics.reclaimed, "no metric expected for an empty sweep")
}

func TestReclaim_PerRowFailuresAreSkipped(t *testing.T) {
	store := &mockStuckStore{
		stuck:    messages("m1", "m2", "m3"),
		resetErr: map[string]error{"m1": errors.New("deadlock detected")},
		notReset: map[string]bool{"m2": true},
	}
	r := NewReclaimer(store, nil, testLogger(), 5*time.Minute, 100)

	n, err := r.Reclaim(context.Background(), testNow)
	require.NoError(t, err, "per-row failures must not fail the sweep")
	assert.Equal(t, 1, n)
	assert.Len(t, store.resets, 3, "every row should be attempted")
}

func TestReclaim_ListErrorIsReturned(t *testing.T) {
	r := NewReclaimer(&mockStuckStore{listErr: errors.New("timeout")}, nil, testLogger(), 5*time.Minute, 100)

	_, err := r.Reclaim(context.Background(), testNow)
	assert.Error(t, err)
}
