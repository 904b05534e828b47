// Package notify decides which inbound messages raise a push notification and
// a read acknowledgement, and delivers notifications to the dispatch service.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/observability"
)

const (
	ClassificationText = "text"
	PriorityHigh       = "high"

	DefaultTimeout = 5 * time.Second
)

// Notification is the payload handed to the external dispatch service.
type Notification struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Body           string `json:"body"`
	Classification string `json:"classification"`
	Priority       string `json:"priority"`
}

// EventName lets noop publishers log the notification.
func (Notification) EventName() string {
	return "chat_notification"
}

// Dispatcher delivers a notification. Failures are reported, never retried here.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Log is the part of the message log the trigger needs.
type Log interface {
	Get(id string) (models.Message, bool)
	Admit(msg models.Message) bool
}

// Config wires a Trigger to one conversation.
type Config struct {
	Identity   models.ConversationIdentity
	Log        Log
	Dispatcher Dispatcher
	// MarkRead issues the fire-and-forget mark_read command.
	MarkRead   func()
	RemoteName string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Trigger handles inbound message pushes for one conversation.
type Trigger struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTrigger(cfg Config) *Trigger {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MarkRead == nil {
		cfg.MarkRead = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Handle admits msg and, for a first delivery from the remote participant,
// dispatches a notification and acknowledges the read. It reports whether the
// message qualified.
func (t *Trigger) Handle(msg models.Message) bool {
	_, seen := t.cfg.Log.Get(msg.ID)
	t.cfg.Log.Admit(msg)

	if seen || msg.SenderRole != t.cfg.Identity.RemoteRole() {
		return false
	}

	if t.cfg.Dispatcher != nil {
		t.dispatch(Notification{
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			SenderName:     t.senderName(msg),
			Body:           msg.Body,
			Classification: ClassificationText,
			Priority:       PriorityHigh,
		})
	}
	t.cfg.MarkRead()
	return true
}

// Wait blocks until in-flight dispatches finish.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// Close cancels in-flight dispatches and waits for them.
func (t *Trigger) Close() {
	t.cancel()
	t.wg.Wait()
}

func (t *Trigger) dispatch(n Notification) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(t.ctx, t.cfg.Timeout)
		defer cancel()

		err := t.cfg.Dispatcher.Dispatch(ctx, n)
		observability.IncNotification(err)
		if err != nil {
			t.cfg.Logger.Warn("notification dispatch failed",
				zap.String("conversation_id", n.ConversationID),
				zap.String("sender_id", n.SenderID),
				zap.Error(err),
			)
		}
	}()
}

func (t *Trigger) senderName(msg models.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	if t.cfg.RemoteName != "" {
		return t.cfg.RemoteName
	}
	return msg.SenderRole.Label()
}
