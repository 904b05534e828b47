// Package history runs the request-with-deadline protocol that populates a
// conversation with its prior messages.
package history

import (
	"errors"
	"time"

	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/timer"
)

// DefaultTimeout bounds how long the UI waits for the first snapshot.
const DefaultTimeout = 10 * time.Second

var ErrStarted = errors.New("history load already started")

// State is the progress of the initial history load.
type State int

const (
	StatePending State = iota
	StateLoaded
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateTimedOut:
		return "timed_out"
	}
	return "pending"
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the UI may leave its loading state.
func (s State) Terminal() bool {
	return s != StatePending
}

// Config wires a Loader to its owner.
type Config struct {
	Timeout time.Duration
	Clock   timer.Clock
	Exec    func(func())
	// Request issues the single request_history command.
	Request func() error
	// Admit merges snapshot messages into the log and returns how many changed it.
	Admit func([]models.Message) int
	// OnStateChange is called once when the load reaches a terminal state.
	OnStateChange func(State)
}

// Loader is not safe for concurrent use; the owner serializes calls.
type Loader struct {
	cfg     Config
	timer   *timer.Timer
	state   State
	started bool
}

// New creates a loader in the pending state.
func New(cfg Config) *Loader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.System()
	}
	if cfg.Admit == nil {
		cfg.Admit = func([]models.Message) int { return 0 }
	}
	return &Loader{cfg: cfg, timer: timer.New(cfg.Clock, cfg.Exec)}
}

// Start arms the deadline and issues the history request. The deadline is
// armed even when the request fails so the UI is always released. A request
// error is returned to the caller as a transport warning.
func (l *Loader) Start() error {
	if l.started {
		return ErrStarted
	}
	l.started = true
	l.state = StatePending
	l.timer.Reset(l.cfg.Timeout, l.expire)
	if l.cfg.Request == nil {
		return nil
	}
	return l.cfg.Request()
}

// HandleSnapshot merges a snapshot. The first snapshot while pending settles
// the load; later ones only merge. It returns the number of log changes.
func (l *Loader) HandleSnapshot(msgs []models.Message) int {
	n := l.cfg.Admit(msgs)
	if l.state == StatePending && l.started {
		l.timer.Stop()
		l.settle(StateLoaded)
	}
	return n
}

// State returns the current load state.
func (l *Loader) State() State {
	return l.state
}

// Stop cancels the deadline without changing state.
func (l *Loader) Stop() {
	l.timer.Stop()
}

func (l *Loader) expire() {
	if l.state != StatePending {
		return
	}
	l.settle(StateTimedOut)
}

func (l *Loader) settle(s State) {
	l.state = s
	if l.cfg.OnStateChange != nil {
		l.cfg.OnStateChange(s)
	}
}
