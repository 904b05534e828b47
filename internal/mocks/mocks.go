package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"ride-chat-sync/internal/chatsync"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/notify"
)

type DispatcherMock struct {
	mock.Mock
}

func (m *DispatcherMock) Dispatch(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type IdentityClientMock struct {
	mock.Mock
}

func (m *IdentityClientMock) ValidateToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

// AdapterFake records outbound commands and lets tests push inbound events
// through the registered handlers.
type AdapterFake struct {
	mu           sync.Mutex
	handlers     map[string]chatsync.Handlers
	commands     []models.Command
	SendErr      error
	RegisterErr  error
	Unregistered int
}

func NewAdapterFake() *AdapterFake {
	return &AdapterFake{handlers: make(map[string]chatsync.Handlers)}
}

func (a *AdapterFake) Register(conversationID string, h chatsync.Handlers) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RegisterErr != nil {
		return nil, a.RegisterErr
	}
	a.handlers[conversationID] = h
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers, conversationID)
		a.Unregistered++
	}, nil
}

func (a *AdapterFake) Send(_ context.Context, cmd models.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, cmd)
	return a.SendErr
}

func (a *AdapterFake) SetSendErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SendErr = err
}

// Commands returns the outbound commands sent so far.
func (a *AdapterFake) Commands() []models.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Command(nil), a.commands...)
}

// CommandTypes returns the types of the outbound commands sent so far.
func (a *AdapterFake) CommandTypes() []models.CommandType {
	cmds := a.Commands()
	out := make([]models.CommandType, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Type)
	}
	return out
}

// Count returns how many commands of type t were sent.
func (a *AdapterFake) Count(t models.CommandType) int {
	n := 0
	for _, c := range a.Commands() {
		if c.Type == t {
			n++
		}
	}
	return n
}

// Handlers returns the handlers registered for a conversation.
func (a *AdapterFake) Handlers(conversationID string) (chatsync.Handlers, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handlers[conversationID]
	return h, ok
}

var _ chatsync.Adapter = (*AdapterFake)(nil)
var _ notify.Dispatcher = (*DispatcherMock)(nil)
