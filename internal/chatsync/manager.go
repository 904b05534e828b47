package chatsync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ride-chat-sync/internal/models"
)

// Manager keeps one controller per open conversation over a shared adapter.
type Manager struct {
	adapter Adapter
	opts    Options

	mu    sync.RWMutex
	convs map[string]*Controller
}

// NewManager creates an empty manager. opts is copied into every controller.
func NewManager(adapter Adapter, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		adapter: adapter,
		opts:    opts,
		convs:   make(map[string]*Controller),
	}
}

// Open creates and starts a controller for id. overrides adjust the shared
// options for this conversation only.
func (m *Manager) Open(ctx context.Context, id models.ConversationIdentity, overrides ...func(*Options)) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id.ConversationID]; ok {
		return nil, ErrConversationExists
	}

	opts := m.opts
	for _, o := range overrides {
		o(&opts)
	}
	c, err := New(id, m.adapter, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Teardown()
		return nil, err
	}
	m.convs[id.ConversationID] = c
	return c, nil
}

// WithRemoteName sets the display name used in notifications for the remote participant.
func WithRemoteName(name string) func(*Options) {
	return func(o *Options) { o.RemoteName = name }
}

// Get returns the controller of an open conversation.
func (m *Manager) Get(conversationID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// Close tears down and forgets one conversation.
func (m *Manager) Close(conversationID string) error {
	m.mu.Lock()
	c, ok := m.convs[conversationID]
	delete(m.convs, conversationID)
	m.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}
	c.Teardown()
	return nil
}

// CloseAll tears down every open conversation.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	convs := m.convs
	m.convs = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range convs {
		c.Teardown()
	}
}

// Len returns the number of open conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convs)
}
