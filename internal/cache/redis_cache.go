package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smsdispatch/internal/config"
	"smsdispatch/internal/types"
)

const receiptKeyPrefix = "sms:receipt:"

func receiptKey(messageID string) string {
	return receiptKeyPrefix + messageID
}

// RedisReceiptCache writes receipts as JSON values with a fixed TTL.
type RedisReceiptCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisReceiptCache(rdb *redis.Client, ttl time.Duration) *RedisReceiptCache {
	return &RedisReceiptCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient builds a go-redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Unmask(),
		DB:       cfg.DB,
	})
}

func (c *RedisReceiptCache) StoreReceipt(ctx context.Context, r Receipt) error {
	r.SentAt = r.SentAt.UTC()
	b, err := json.Marshal(r)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "failed to encode receipt", err)
	}
	if err := c.rdb.Set(ctx, receiptKey(r.MessageID), b, c.ttl).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, fmt.Sprintf("failed to store receipt for %s", r.MessageID), err)
	}
	return nil
}

// Receipt returns the cached receipt, or false when it expired or was never stored.
func (c *RedisReceiptCache) Receipt(ctx context.Context, messageID string) (Receipt, bool, error) {
	raw, err := c.rdb.Get(ctx, receiptKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, types.NewAppError(types.ErrCodeInternalCache, "failed to read receipt", err)
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, false, types.NewAppError(types.ErrCodeInternalCache, "corrupt receipt entry", err)
	}
	return r, true, nil
}

// Ping checks connectivity for health probes.
func (c *RedisReceiptCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

var _ ReceiptCache = (*RedisReceiptCache)(nil)
