// Package ws carries chat commands and pushes over one websocket connection
// to the chat server and fans inbound frames out to per-conversation handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ride-chat-sync/internal/chatsync"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/observability"
)

const routingKey = "ws_events.client"

var (
	ErrQueueFull         = errors.New("websocket send queue full")
	ErrAlreadyRegistered = errors.New("conversation already registered")
)

// Options tune a Client. Zero values fall back to defaults.
type Options struct {
	Header        http.Header
	ParticipantID string
	QueueSize     int
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
}

func (o *Options) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type route struct {
	h chatsync.Handlers
}

// Client is a chatsync.Adapter over a single websocket connection.
type Client struct {
	conn   *websocket.Conn
	info   ConnInfo
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	routes map[string]*route

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ chatsync.Adapter = (*Client)(nil)

// Dial connects to url and starts the read and write pumps.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	ctx, span := observability.Tracer().Start(ctx, "ws.dial")
	defer span.End()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		observability.IncWSEvent("ws_error")
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := newClient(conn, opts)
	c.info.URL = url
	c.info.TraceID = observability.TraceID(ctx)
	c.start()
	return c, nil
}

func newClient(conn *websocket.Conn, opts Options) *Client {
	opts.defaults()
	info := ConnInfo{
		ConnID:        uuid.NewString(),
		ParticipantID: opts.ParticipantID,
		ConnectedAt:   time.Now(),
	}
	return &Client{
		conn:   conn,
		info:   info,
		opts:   opts,
		logger: opts.Logger.With(zap.String("conn_id", info.ConnID)),
		routes: make(map[string]*route),
		queue:  make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) start() {
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	c.publish("ws_connect", "")
	c.logger.Info("websocket connected", zap.String("url", c.info.URL))

	go c.readPump()
	go c.writePump()
}

// Register routes inbound pushes for conversationID to h until the returned
// func is called. A conversation can be registered once at a time.
func (c *Client) Register(conversationID string, h chatsync.Handlers) (func(), error) {
	if c.isClosed() {
		return nil, chatsync.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routes[conversationID]; ok {
		return nil, fmt.Errorf("%s: %w", conversationID, ErrAlreadyRegistered)
	}
	r := &route{h: h}
	c.routes[conversationID] = r

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.routes[conversationID] == r {
				delete(c.routes, conversationID)
			}
		})
	}, nil
}

// Send queues cmd for the write pump. It never blocks: a full queue is
// reported as ErrQueueFull.
func (c *Client) Send(ctx context.Context, cmd models.Command) error {
	frame, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return chatsync.ErrClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	<-c.done
	return c.err
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.err = cause
		close(c.done)
		if c.conn == nil {
			return
		}

		reason := ""
		if cause != nil {
			reason = cause.Error()
		} else {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
		}
		_ = c.conn.Close()

		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		c.publish("ws_disconnect", reason)
		c.logger.Info("websocket disconnected", zap.String("reason", reason))
	})
}

func (c *Client) readPump() {
	pongWait := 2 * c.opts.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				c.publish("ws_error", err.Error())
			}
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("websocket write failed", zap.Error(err))
				observability.IncWSEvent("ws_error")
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown(err)
				return
			}
		}
	}
}

// dispatch decodes one frame and hands it to the registered conversation.
// Frames that cannot be decoded or routed are dropped.
func (c *Client) dispatch(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.dropFrame("", err)
		return
	}

	switch models.EventType(env.Type) {
	case models.EventMessage:
		var p models.MessagePush
		if !c.decode(env, &p) {
			return
		}
		if p.ConversationID == "" {
			p.ConversationID = env.ConversationID
		}
		if h, ok := c.lookup(env.Type, p.ConversationID); ok && h.Message != nil {
			h.Message(p)
		}
	case models.EventHistory:
		var s models.HistorySnapshot
		if !c.decode(env, &s) {
			return
		}
		if s.ConversationID == "" {
			s.ConversationID = env.ConversationID
		}
		if h, ok := c.lookup(env.Type, s.ConversationID); ok && h.History != nil {
			h.History(s)
		}
	case models.EventTyping:
		var p models.TypingPush
		if !c.decode(env, &p) {
			return
		}
		if p.ConversationID == "" {
			p.ConversationID = env.ConversationID
		}
		if h, ok := c.lookup(env.Type, p.ConversationID); ok && h.Typing != nil {
			h.Typing(p)
		}
	case models.EventReadReceipt:
		var p models.ReadReceiptPush
		if !c.decode(env, &p) {
			return
		}
		if p.ConversationID == "" {
			p.ConversationID = env.ConversationID
		}
		if h, ok := c.lookup(env.Type, p.ConversationID); ok && h.ReadReceipt != nil {
			h.ReadReceipt(p)
		}
	default:
		c.dropFrame(env.Type, models.ErrUnknownEvent)
	}
}

func (c *Client) decode(env models.Envelope, v any) bool {
	if len(env.Payload) == 0 {
		c.dropFrame(env.Type, fmt.Errorf("payload: %w", models.ErrMissingField))
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		c.dropFrame(env.Type, err)
		return false
	}
	return true
}

func (c *Client) lookup(kind, conversationID string) (chatsync.Handlers, bool) {
	if conversationID == "" {
		c.dropFrame(kind, fmt.Errorf("conversation_id: %w", models.ErrMissingField))
		return chatsync.Handlers{}, false
	}
	c.mu.RLock()
	r, ok := c.routes[conversationID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug("push for unregistered conversation", zap.String("event", kind), zap.String("conversation_id", conversationID))
		observability.IncInbound(kind, "unrouted")
		return chatsync.Handlers{}, false
	}
	return r.h, true
}

func (c *Client) dropFrame(kind string, err error) {
	c.logger.Warn("websocket frame dropped", zap.String("event", kind), zap.Error(err))
	observability.IncInbound(kind, "dropped")
}

func (c *Client) publish(event, reason string) {
	headers := observability.BuildHeaders("", c.info.TraceID)
	go func() {
		_ = observability.PublishEvent(context.Background(), routingKey, observability.EventEnvelope{
			EventType:  "ws_events",
			Name:       event,
			OccurredAt: time.Now().UTC(),
			Payload:    c.info.payload(event, reason),
		}, headers)
	}()
}
