// Package chatsync reconciles a conversation's local message log with the
// events pushed by the chat server.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ride-chat-sync/internal/chatlog"
	"ride-chat-sync/internal/history"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/notify"
	"ride-chat-sync/internal/observability"
	"ride-chat-sync/internal/timer"
	"ride-chat-sync/internal/typing"
)

// UpdateKind tells subscribers which part of the view changed.
type UpdateKind int

const (
	UpdateLog UpdateKind = iota
	UpdateTyping
	UpdateHistory
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateTyping:
		return "typing"
	case UpdateHistory:
		return "history"
	}
	return "log"
}

// Update is delivered to subscribers after a state change. Subscriber
// channels hold one pending update, so one update may stand for several changes.
type Update struct {
	Kind UpdateKind
}

// Options tune a controller. Zero values fall back to defaults.
type Options struct {
	HistoryTimeout time.Duration
	TypingWindow   time.Duration
	NotifyTimeout  time.Duration
	Clock          timer.Clock
	Dispatcher     notify.Dispatcher
	RemoteName     string
	Logger         *zap.Logger
	// NewID generates optimistic message ids.
	NewID func() string
	// OnWarning receives non-fatal transport failures.
	OnWarning func(error)
}

// View is the read model handed to the UI layer.
type View struct {
	Identity     models.ConversationIdentity `json:"identity"`
	HistoryState history.State               `json:"history_state"`
	RemoteTyping typing.State                `json:"remote_typing"`
	Unread       int                         `json:"unread"`
	Messages     []models.Message            `json:"messages"`
}

// Controller owns the state of one conversation. Every handler, timer
// callback and public method runs under mu, so each runs to completion
// before the next starts.
type Controller struct {
	id      models.ConversationIdentity
	opts    Options
	adapter Adapter
	logger  *zap.Logger

	mu         sync.Mutex
	log        *chatlog.Log
	typing     *typing.Coordinator
	history    *history.Loader
	trigger    *notify.Trigger
	unregister func()
	started    bool
	closed     bool
	subs       map[int]chan Update
	nextSub    int
}

// New builds a controller for id. It does not touch the adapter until Start.
func New(id models.ConversationIdentity, adapter Adapter, opts Options) (*Controller, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("conversation identity: %w", err)
	}
	if adapter == nil {
		return nil, errors.New("nil adapter")
	}
	if opts.Clock == nil {
		opts.Clock = timer.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Controller{
		id:      id,
		opts:    opts,
		adapter: adapter,
		logger:  opts.Logger.With(zap.String("conversation_id", id.ConversationID)),
		subs:    make(map[int]chan Update),
	}

	logOpts := []chatlog.Option{chatlog.WithClock(opts.Clock.Now)}
	if opts.NewID != nil {
		logOpts = append(logOpts, chatlog.WithIDGenerator(opts.NewID))
	}
	c.log = chatlog.New(func() { c.publish(UpdateLog) }, logOpts...)

	c.typing = typing.New(typing.Config{
		RemoteRole:     id.RemoteRole(),
		Window:         opts.TypingWindow,
		Clock:          opts.Clock,
		Exec:           c.run,
		Emit:           c.emitTyping,
		OnRemoteChange: func() { c.publish(UpdateTyping) },
	})

	c.history = history.New(history.Config{
		Timeout:       opts.HistoryTimeout,
		Clock:         opts.Clock,
		Exec:          c.run,
		Request:       c.requestHistory,
		Admit:         c.log.AdmitBatch,
		OnStateChange: c.historySettled,
	})

	c.trigger = notify.NewTrigger(notify.Config{
		Identity:   id,
		Log:        c.log,
		Dispatcher: opts.Dispatcher,
		MarkRead:   c.markRead,
		RemoteName: opts.RemoteName,
		Timeout:    opts.NotifyTimeout,
		Logger:     c.logger,
	})
	return c, nil
}

// Start registers the inbound handlers, issues the history request and arms
// the history deadline. A failed history request is a transport warning: the
// deadline still releases the UI.
func (c *Controller) Start(ctx context.Context) error {
	ctx, span := observability.Tracer().Start(ctx, "chatsync.start")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}

	unregister, err := c.adapter.Register(c.id.ConversationID, Handlers{
		Message:     c.HandleMessage,
		History:     c.HandleHistory,
		Typing:      c.HandleTyping,
		ReadReceipt: c.HandleReadReceipt,
	})
	if err != nil {
		return fmt.Errorf("register conversation: %w", err)
	}
	c.unregister = unregister
	c.started = true

	if err := c.history.Start(); err != nil {
		c.logger.Warn("history request failed", zap.Error(err))
	}

	observability.IncActiveConversations()
	go observability.PublishConversationEvent(context.Background(), observability.RoutingConversationOpened, "conversation_opened",
		c.eventPayload(), observability.BuildHeaders("", observability.TraceID(ctx)))
	c.logger.Info("conversation opened", zap.String("role", string(c.id.Role)))
	return nil
}

// Teardown cancels both timers, stops local typing and unregisters from the
// adapter. It is safe to call more than once.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.typing.Stop()
	c.history.Stop()
	c.closed = true
	if c.unregister != nil {
		c.unregister()
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	wasStarted := c.started
	c.mu.Unlock()

	c.trigger.Close()
	if wasStarted {
		observability.DecActiveConversations()
		go observability.PublishConversationEvent(context.Background(), observability.RoutingConversationClosed, "conversation_closed",
			c.eventPayload(), nil)
	}
	c.logger.Info("conversation closed")
}

// SendMessage appends an optimistic message, stops local typing and sends it.
// A blank body is rejected with ErrEmptyBody and changes nothing. When the
// transport fails the message stays in the log and the error wraps ErrTransport.
func (c *Controller) SendMessage(ctx context.Context, body string) (models.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.Message{}, ErrClosed
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, ErrEmptyBody
	}

	msg := c.log.ComposeOptimistic(body, c.id)
	c.typing.MessageSent()
	err := c.send(ctx, models.Command{
		Type:            models.CommandSendMessage,
		ConversationID:  c.id.ConversationID,
		ParticipantID:   c.id.ParticipantID,
		Role:            c.id.Role,
		Body:            body,
		ClientMessageID: msg.ID,
	})
	return msg, err
}

// InputChanged feeds the current composer text to the typing coordinator.
func (c *Controller) InputChanged(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.typing.InputChanged(text)
	return nil
}

// HandleMessage processes a message push.
func (c *Controller) HandleMessage(p models.MessagePush) {
	c.run(func() {
		msg, err := p.ToMessage()
		if err != nil {
			c.drop(models.EventMessage, err)
			return
		}
		if !c.addressedToMe(models.EventMessage, msg.ConversationID) {
			return
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = c.opts.Clock.Now()
		}
		if c.trigger.Handle(msg) {
			c.typing.ClearRemote()
		}
		observability.IncInbound(string(models.EventMessage), "applied")
	})
}

// HandleHistory processes a history snapshot. Malformed entries are dropped
// one by one; entries without a conversation id inherit the snapshot's.
func (c *Controller) HandleHistory(s models.HistorySnapshot) {
	c.run(func() {
		if s.ConversationID == "" {
			c.drop(models.EventHistory, fmt.Errorf("conversation_id: %w", models.ErrMissingField))
			return
		}
		if !c.addressedToMe(models.EventHistory, s.ConversationID) {
			return
		}

		msgs := make([]models.Message, 0, len(s.Messages))
		for _, p := range s.Messages {
			if p.ConversationID == "" {
				p.ConversationID = s.ConversationID
			}
			msg, err := p.ToMessage()
			if err != nil {
				c.drop(models.EventHistory, err)
				continue
			}
			if msg.ConversationID != c.id.ConversationID {
				c.drop(models.EventHistory, fmt.Errorf("entry %s belongs to %s", msg.ID, msg.ConversationID))
				continue
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = c.opts.Clock.Now()
			}
			msgs = append(msgs, msg)
		}
		c.history.HandleSnapshot(msgs)
		observability.IncInbound(string(models.EventHistory), "applied")
	})
}

// HandleTyping processes a typing push.
func (c *Controller) HandleTyping(p models.TypingPush) {
	c.run(func() {
		if p.ConversationID == "" {
			c.drop(models.EventTyping, fmt.Errorf("conversation_id: %w", models.ErrMissingField))
			return
		}
		role, err := models.ParseRole(p.SenderRole)
		if err != nil {
			c.drop(models.EventTyping, fmt.Errorf("sender_role: %w", err))
			return
		}
		if !c.addressedToMe(models.EventTyping, p.ConversationID) {
			return
		}
		if !c.typing.ApplyRemote(role, p.IsTyping) {
			observability.IncInbound(string(models.EventTyping), "ignored")
			return
		}
		observability.IncInbound(string(models.EventTyping), "applied")
	})
}

// HandleReadReceipt validates a read-receipt push and applies it.
func (c *Controller) HandleReadReceipt(p models.ReadReceiptPush) {
	if p.ConversationID == "" {
		c.run(func() {
			c.drop(models.EventReadReceipt, fmt.Errorf("conversation_id: %w", models.ErrMissingField))
		})
		return
	}
	role, err := models.ParseRole(p.ReaderRole)
	if err != nil {
		c.run(func() { c.drop(models.EventReadReceipt, fmt.Errorf("reader_role: %w", err)) })
		return
	}
	c.run(func() {
		if !c.addressedToMe(models.EventReadReceipt, p.ConversationID) {
			return
		}
		c.onRemoteReadReceipt(role)
		observability.IncInbound(string(models.EventReadReceipt), "applied")
	})
}

// OnRemoteReadReceipt marks every message sent by the local participant as
// read. The reported reader role is not used as the predicate: a receipt
// always acknowledges what this side sent.
func (c *Controller) OnRemoteReadReceipt(readerRole models.Role) {
	c.run(func() { c.onRemoteReadReceipt(readerRole) })
}

func (c *Controller) onRemoteReadReceipt(readerRole models.Role) {
	n := c.log.MarkReadBySender(c.id.Role)
	c.logger.Debug("read receipt applied", zap.String("reader_role", string(readerRole)), zap.Int("marked", n))
}

// Snapshot returns the messages in display order.
func (c *Controller) Snapshot() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Snapshot()
}

// HistoryState returns the progress of the initial history load.
func (c *Controller) HistoryState() history.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.State()
}

// RemoteTyping returns the remote participant's typing indicator.
func (c *Controller) RemoteTyping() typing.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing.Remote()
}

// Unread counts remote messages not yet read.
func (c *Controller) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Unread(c.id.RemoteRole())
}

// View returns a consistent read model of the whole conversation.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Identity:     c.id,
		HistoryState: c.history.State(),
		RemoteTyping: c.typing.Remote(),
		Unread:       c.log.Unread(c.id.RemoteRole()),
		Messages:     c.log.Snapshot(),
	}
}

// Identity returns the immutable conversation identity.
func (c *Controller) Identity() models.ConversationIdentity {
	return c.id
}

// Closed reports whether Teardown has run.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe returns a channel of updates and a cancel func. The channel is
// closed on cancel or teardown.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Update, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				close(sub)
				delete(c.subs, id)
			}
		})
	}
}

// WaitNotifications blocks until in-flight notification dispatches finish.
func (c *Controller) WaitNotifications() {
	c.trigger.Wait()
}

// run executes f under the controller lock unless the controller is closed.
// It is the exec hook for both timers.
func (c *Controller) run(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	f()
}

func (c *Controller) publish(kind UpdateKind) {
	for _, ch := range c.subs {
		select {
		case ch <- Update{Kind: kind}:
		default:
		}
	}
}

func (c *Controller) send(ctx context.Context, cmd models.Command) error {
	err := c.adapter.Send(ctx, cmd)
	observability.IncOutbound(string(cmd.Type), err)
	if err == nil {
		return nil
	}
	c.logger.Warn("outbound command failed", zap.String("command", string(cmd.Type)), zap.Error(err))
	err = fmt.Errorf("%s: %w: %w", cmd.Type, ErrTransport, err)
	if c.opts.OnWarning != nil {
		c.opts.OnWarning(err)
	}
	return err
}

func (c *Controller) command(t models.CommandType) models.Command {
	return models.Command{
		Type:           t,
		ConversationID: c.id.ConversationID,
		ParticipantID:  c.id.ParticipantID,
		Role:           c.id.Role,
	}
}

func (c *Controller) emitTyping(t models.CommandType) {
	_ = c.send(context.Background(), c.command(t))
}

func (c *Controller) requestHistory() error {
	return c.send(context.Background(), c.command(models.CommandRequestHistory))
}

func (c *Controller) markRead() {
	_ = c.send(context.Background(), c.command(models.CommandMarkRead))
}

func (c *Controller) historySettled(s history.State) {
	observability.IncHistoryLoad(s.String())
	c.publish(UpdateHistory)
	if s != history.StateTimedOut {
		return
	}
	c.logger.Info("history load timed out", zap.Int("messages", c.log.Len()))
	go observability.PublishConversationEvent(context.Background(), observability.RoutingHistoryTimedOut, "history_timed_out",
		c.eventPayload(), nil)
}

func (c *Controller) addressedToMe(kind models.EventType, conversationID string) bool {
	if conversationID == c.id.ConversationID {
		return true
	}
	c.logger.Debug("event for another conversation ignored",
		zap.String("event", string(kind)),
		zap.String("target", conversationID),
	)
	observability.IncInbound(string(kind), "ignored")
	return false
}

func (c *Controller) drop(kind models.EventType, reason error) {
	c.logger.Warn("malformed event dropped", zap.String("event", string(kind)), zap.Error(reason))
	observability.IncInbound(string(kind), "dropped")
}

func (c *Controller) eventPayload() map[string]interface{} {
	return map[string]interface{}{
		"conversation_id": c.id.ConversationID,
		"participant_id":  c.id.ParticipantID,
		"role":            string(c.id.Role),
	}
}
