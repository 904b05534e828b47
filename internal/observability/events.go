package observability

import (
	"context"
	"time"
)

// Routing keys for conversation lifecycle events.
const (
	RoutingConversationOpened = "chatsync.conversation.opened"
	RoutingConversationClosed = "chatsync.conversation.closed"
	RoutingHistoryTimedOut    = "chatsync.history.timed_out"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	Name       string      `json:"event_name"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// EventName lets noop publishers log the envelope.
func (e EventEnvelope) EventName() string {
	return e.Name
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishConversationEvent publishes a lifecycle event for one conversation.
func PublishConversationEvent(ctx context.Context, routingKey, name string, payload map[string]interface{}, headers map[string]string) error {
	return PublishEvent(ctx, routingKey, EventEnvelope{
		EventType:  "conversation_events",
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, headers)
}

func PublishEvent(ctx context.Context, routingKey string, message EventEnvelope, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
