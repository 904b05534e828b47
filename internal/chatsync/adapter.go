package chatsync

import (
	"context"
	"errors"

	"ride-chat-sync/internal/models"
)

var (
	ErrClosed               = errors.New("conversation controller is closed")
	ErrEmptyBody            = errors.New("message body is empty")
	ErrTransport            = errors.New("transport failure")
	ErrConversationExists   = errors.New("conversation already open")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Handlers receive the four inbound event streams of one conversation.
type Handlers struct {
	Message     func(models.MessagePush)
	History     func(models.HistorySnapshot)
	Typing      func(models.TypingPush)
	ReadReceipt func(models.ReadReceiptPush)
}

// Adapter is the transport shared by every conversation on one connection.
// Register must not invoke the handlers synchronously, and Send must not
// block on the network.
type Adapter interface {
	Register(conversationID string, h Handlers) (unregister func(), err error)
	Send(ctx context.Context, cmd models.Command) error
}
