// Package telemetry emits audit records for actions taken through the HTTP bridge.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const AuditRoutingKey = "chatsync.audit"

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// EventName lets noop publishers log the record.
func (AuditEnvelope) EventName() string {
	return "audit_log"
}

type AuditPayload struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Outcome        string `json:"outcome"`
}

func NewAuditEmitter(publisher Publisher, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  AuditRoutingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one audit record. Publish failures are logged and dropped.
func (e *AuditEmitter) Emit(ctx context.Context, requestID, participantID string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		ParticipantID: participantID,
		Payload:       payload,
	}

	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.logger.Warn("audit publish failed",
			zap.String("action", payload.Action),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
