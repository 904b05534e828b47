// Package typing turns local keystrokes into debounced typing signals and
// tracks the remote participant's typing indicator.
package typing

import (
	"time"

	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/timer"
)

// DefaultWindow is the quiet period after the last keystroke before typing_stop is sent.
const DefaultWindow = time.Second

// State is the typing indicator of the remote participant.
type State struct {
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config wires a Coordinator to its owner.
type Config struct {
	RemoteRole models.Role
	Window     time.Duration
	Clock      timer.Clock
	// Exec runs debounce expiry under the owner's lock.
	Exec func(func())
	// Emit sends CommandTypingStart or CommandTypingStop.
	Emit func(models.CommandType)
	// OnRemoteChange is called when the remote indicator flips.
	OnRemoteChange func()
}

// Coordinator is idle until the input becomes non-empty, then active while
// the stop timer runs. It is not safe for concurrent use.
type Coordinator struct {
	cfg    Config
	timer  *timer.Timer
	active bool
	remote State
}

// New creates an idle coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.System()
	}
	if cfg.Emit == nil {
		cfg.Emit = func(models.CommandType) {}
	}
	return &Coordinator{
		cfg:   cfg,
		timer: timer.New(cfg.Clock, cfg.Exec),
	}
}

// InputChanged handles one keystroke with the full current input text.
func (c *Coordinator) InputChanged(text string) {
	if text == "" {
		c.toIdle()
		return
	}
	if !c.active {
		c.active = true
		c.cfg.Emit(models.CommandTypingStart)
	}
	c.timer.Reset(c.cfg.Window, func() { c.toIdle() })
}

// MessageSent cancels the debounce synchronously. It reports whether typing_stop was emitted.
func (c *Coordinator) MessageSent() bool {
	return c.toIdle()
}

// Stop cancels the debounce timer, emitting typing_stop if the local side was typing.
func (c *Coordinator) Stop() {
	c.toIdle()
}

// Active reports whether the local side is currently signalling typing.
func (c *Coordinator) Active() bool {
	return c.active
}

// ApplyRemote records a typing push. Pushes for any role other than the
// remote participant are ignored. It reports whether the push was accepted.
func (c *Coordinator) ApplyRemote(role models.Role, isTyping bool) bool {
	if role != c.cfg.RemoteRole {
		return false
	}
	c.setRemote(isTyping)
	return true
}

// ClearRemote resets the remote indicator to not typing.
func (c *Coordinator) ClearRemote() {
	if c.remote.IsTyping {
		c.setRemote(false)
	}
}

// Remote returns the remote participant's indicator.
func (c *Coordinator) Remote() State {
	return c.remote
}

func (c *Coordinator) setRemote(isTyping bool) {
	flipped := c.remote.IsTyping != isTyping
	c.remote = State{IsTyping: isTyping, UpdatedAt: c.cfg.Clock.Now()}
	if flipped && c.cfg.OnRemoteChange != nil {
		c.cfg.OnRemoteChange()
	}
}

func (c *Coordinator) toIdle() bool {
	c.timer.Stop()
	if !c.active {
		return false
	}
	c.active = false
	c.cfg.Emit(models.CommandTypingStop)
	return true
}
