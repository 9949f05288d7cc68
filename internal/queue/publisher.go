// Package queue publishes delivery events to SQS for downstream consumers
// (billing reconciliation, customer webhooks).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"smsdispatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher sends DeliveryEvents to a single queue. Event type and
// provider travel as message attributes so consumers can filter without
// decoding the body.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

func NewEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish assigns an EventID when missing and sends the event.
func (p *EventPublisher) Publish(ctx context.Context, evt types.DeliveryEvent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal DeliveryEvent: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"event_type": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(evt.Type)),
		},
	}
	if evt.Provider != "" {
		attrs["provider"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(string(evt.Provider)),
		}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to publish %s for message %s", evt.Type, evt.MessageID),
			err,
		)
	}

	p.logger.DebugContext(ctx, "delivery event published",
		"event_id", evt.EventID,
		"type", string(evt.Type),
		"message_id", evt.MessageID,
	)
	return nil
}

// NoopPublisher drops events. Used when SQS_DELIVERY_EVENTS is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, types.DeliveryEvent) error { return nil }
