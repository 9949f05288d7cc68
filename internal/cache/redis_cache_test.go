package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsdispatch/internal/config"
	"smsdispatch/internal/types"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisReceiptCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisReceiptCache(rdb, ttl), mr
}

func TestRedisReceiptCache_StoreReceipt(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, 10*time.Second)
	sentAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.FixedZone("CET", 3600))

	err := c.StoreReceipt(context.Background(), Receipt{
		MessageID:         "msg-42",
		ProviderMessageID: "SM123",
		GatewayID:         "gw-1",
		SentAt:            sentAt,
	})
	require.NoError(t, err)

	key := "sms:receipt:msg-42"
	require.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	raw, err := mr.Get(key)
	require.NoError(t, err)

	var got Receipt
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "SM123", got.ProviderMessageID)
	assert.True(t, got.SentAt.Equal(sentAt))
	assert.Equal(t, time.UTC, got.SentAt.Location())
}

func TestRedisReceiptCache_ReceiptRoundTripAndExpiry(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.StoreReceipt(ctx, Receipt{MessageID: "m1", ProviderMessageID: "first", SentAt: time.Now()}))
	require.NoError(t, c.StoreReceipt(ctx, Receipt{MessageID: "m1", ProviderMessageID: "second", SentAt: time.Now()}))

	got, ok, err := c.Receipt(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.ProviderMessageID)

	mr.FastForward(2 * time.Minute)

	_, ok, err = c.Receipt(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReceiptCache_CorruptEntry(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t, time.Minute)
	require.NoError(t, mr.Set("sms:receipt:bad", "{not json"))

	_, _, err := c.Receipt(context.Background(), "bad")
	assert.Equal(t, types.ErrCodeInternalCache, types.ErrorCodeOf(err))
}

func TestRedisReceiptCache_ContextCanceled(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.StoreReceipt(ctx, Receipt{MessageID: "x"})
	assert.Equal(t, types.ErrCodeInternalCache, types.ErrorCodeOf(err))
}

func TestRedisReceiptCache_PingAndClientFromConfig(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedisReceiptCache(rdb, time.Minute)
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	assert.Error(t, c.Ping(context.Background()))
}

func TestNoopReceiptCache(t *testing.T) {
	var c ReceiptCache = NoopReceiptCache{}
	require.NoError(t, c.StoreReceipt(context.Background(), Receipt{MessageID: "m"}))
	_, ok, err := c.Receipt(context.Background(), "m")
	require.NoError(t, err)
	assert.False(t, ok)
}
