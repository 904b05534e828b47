package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an inbound push from the chat server.
type EventType string

const (
	EventMessage     EventType = "message"
	EventHistory     EventType = "history"
	EventTyping      EventType = "typing"
	EventReadReceipt EventType = "read_receipt"
)

// CommandType names an outbound command sent to the chat server.
type CommandType string

const (
	CommandSendMessage    CommandType = "send_message"
	CommandRequestHistory CommandType = "request_history"
	CommandMarkRead       CommandType = "mark_read"
	CommandTypingStart    CommandType = "typing_start"
	CommandTypingStop     CommandType = "typing_stop"
)

// Envelope is the frame exchanged over the websocket.
type Envelope struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// MessagePush is a single message delivered by the server, live or inside a history snapshot.
type MessagePush struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	SenderRole     string    `json:"sender_role"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read,omitempty"`
}

// ToMessage validates the push and converts it into a log entry.
// A zero CreatedAt is left for the caller to fill in.
func (p MessagePush) ToMessage() (Message, error) {
	if p.MessageID == "" {
		return Message{}, fmt.Errorf("message_id: %w", ErrMissingField)
	}
	if p.ConversationID == "" {
		return Message{}, fmt.Errorf("conversation_id: %w", ErrMissingField)
	}
	role, err := ParseRole(p.SenderRole)
	if err != nil {
		return Message{}, fmt.Errorf("sender_role: %w", err)
	}
	return Message{
		ID:             p.MessageID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		SenderRole:     role,
		SenderName:     p.SenderName,
		Body:           p.Body,
		CreatedAt:      p.CreatedAt,
		Read:           p.Read,
	}, nil
}

// HistorySnapshot is the bulk reply to a request_history command.
type HistorySnapshot struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []MessagePush `json:"messages"`
}

// TypingPush reports the typing state of one side of the conversation.
type TypingPush struct {
	ConversationID string `json:"conversation_id"`
	SenderRole     string `json:"sender_role"`
	IsTyping       bool   `json:"is_typing"`
}

// ReadReceiptPush reports that ReaderRole has read the messages addressed to it.
type ReadReceiptPush struct {
	ConversationID string `json:"conversation_id"`
	ReaderRole     string `json:"reader_role"`
}

// Command is an outbound request. Fields not used by Type are left empty.
type Command struct {
	Type           CommandType
	ConversationID string
	ParticipantID  string
	Role           Role
	Body           string
	// ClientMessageID carries the optimistic id of a send_message.
	ClientMessageID string
}

type sendMessagePayload struct {
	ConversationID  string `json:"conversation_id"`
	SenderID        string `json:"sender_id"`
	SenderRole      Role   `json:"sender_role"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

type requestHistoryPayload struct {
	ConversationID string `json:"conversation_id"`
	RequesterID    string `json:"requester_id"`
	RequesterRole  Role   `json:"requester_role"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderRole     Role   `json:"sender_role"`
}

type markReadPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	ReaderRole     Role   `json:"reader_role"`
}

// Payload returns the wire body for the command type.
func (c Command) Payload() (any, error) {
	switch c.Type {
	case CommandSendMessage:
		return sendMessagePayload{c.ConversationID, c.ParticipantID, c.Role, c.Body, c.ClientMessageID}, nil
	case CommandRequestHistory:
		return requestHistoryPayload{c.ConversationID, c.ParticipantID, c.Role}, nil
	case CommandTypingStart, CommandTypingStop:
		return typingPayload{c.ConversationID, c.ParticipantID, c.Role}, nil
	case CommandMarkRead:
		return markReadPayload{c.ConversationID, c.ParticipantID, c.Role}, nil
	}
	return nil, fmt.Errorf("%s: %w", c.Type, ErrUnknownEvent)
}

// Encode marshals the command into a websocket frame.
func (c Command) Encode() ([]byte, error) {
	payload, err := c.Payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: string(c.Type), ConversationID: c.ConversationID, Payload: raw})
}
