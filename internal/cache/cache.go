// Package cache keeps short-lived delivery receipts in Redis so operators and
// downstream consumers can resolve a provider message id without a database
// round trip.
package cache

import (
	"context"
	"time"
)

// Receipt is the cached record of an accepted send.
type Receipt struct {
	MessageID         string    `json:"messageId"`
	ProviderMessageID string    `json:"providerMessageId"`
	GatewayID         string    `json:"gatewayId"`
	SentAt            time.Time `json:"sentAt"`
}

// ReceiptCache stores and looks up receipts by internal message id.
type ReceiptCache interface {
	StoreReceipt(ctx context.Context, r Receipt) error
	Receipt(ctx context.Context, messageID string) (Receipt, bool, error)
}

// NoopReceiptCache is used when no Redis address is configured.
type NoopReceiptCache struct{}

func (NoopReceiptCache) StoreReceipt(context.Context, Receipt) error { return nil }

func (NoopReceiptCache) Receipt(context.Context, string) (Receipt, bool, error) {
	return Receipt{}, false, nil
}
