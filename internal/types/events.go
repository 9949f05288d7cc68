package types

import "time"

// DeliveryEventType names a terminal transition published for downstream consumers.
type DeliveryEventType string

const (
	DeliveryEventSent   DeliveryEventType = "message.sent"
	DeliveryEventFailed DeliveryEventType = "message.failed"
)

// DeliveryEvent is the queue payload emitted when a message reaches sent or failed.
type DeliveryEvent struct {
	EventID           string            `json:"event_id"`
	Type              DeliveryEventType `json:"type"`
	MessageID         string            `json:"message_id"`
	UserID            string            `json:"user_id"`
	GatewayID         string            `json:"gateway_id"`
	Provider          GatewayProvider   `json:"provider,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	RetryCount        int               `json:"retry_count"`
	Reason            string            `json:"reason,omitempty"`
	OccurredAt        time.Time         `json:"occurred_at"`
}
