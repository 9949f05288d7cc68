package types

import "time"

// MessageStatus is the lifecycle state of a scheduled message.
type MessageStatus string

const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusScheduled  MessageStatus = "scheduled"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusRetry      MessageStatus = "retry"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusDelivered  MessageStatus = "delivered"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusCancelled  MessageStatus = "cancelled"
)

// AllMessageStatuses lists every status in lifecycle order.
var AllMessageStatuses = []MessageStatus{
	MessageStatusPending,
	MessageStatusScheduled,
	MessageStatusProcessing,
	MessageStatusRetry,
	MessageStatusSent,
	MessageStatusDelivered,
	MessageStatusFailed,
	MessageStatusCancelled,
}

// IsTerminal reports whether the status is a sink. No dispatch component
// moves a message out of a terminal status.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusFailed, MessageStatusCancelled:
		return true
	}
	return false
}

// IsDispatchable reports whether a message in this status may be claimed.
func (s MessageStatus) IsDispatchable() bool {
	switch s {
	case MessageStatusPending, MessageStatusScheduled, MessageStatusRetry:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	return s.IsTerminal() || s.IsDispatchable() || s == MessageStatusProcessing
}

// Message is one outbound SMS row and its delivery bookkeeping.
type Message struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	SenderID          string        `json:"sender_id"`
	GatewayID         string        `json:"gateway_id"`
	Recipient         string        `json:"recipient"`
	Body              string        `json:"message"`
	ScheduledFor      *time.Time    `json:"scheduled_for,omitempty"`
	Status            MessageStatus `json:"status"`
	RetryCount        int           `json:"retry_count"`
	LastAttempt       *time.Time    `json:"last_attempt,omitempty"`
	NextRetry         *time.Time    `json:"next_retry,omitempty"`
	ErrorMessage      *string       `json:"error_message,omitempty"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// IsDue reports whether the message is eligible for dispatch at now.
// It mirrors the selection predicate used by the message repository.
func (m *Message) IsDue(now time.Time) bool {
	if !m.Status.IsDispatchable() {
		return false
	}
	if m.ScheduledFor != nil && m.ScheduledFor.After(now) {
		return false
	}
	if m.Status == MessageStatusRetry && m.NextRetry != nil && m.NextRetry.After(now) {
		return false
	}
	return true
}

// Outbound returns the provider-facing view of the message.
func (m *Message) Outbound() OutboundSMS {
	return OutboundSMS{
		MessageID: m.ID,
		From:      m.SenderID,
		To:        m.Recipient,
		Body:      m.Body,
	}
}

// OutboundSMS is the payload handed to a gateway provider.
type OutboundSMS struct {
	MessageID string
	From      string
	To        string
	Body      string
}
