// Package chatlog holds the ordered, deduplicated message log of one conversation.
package chatlog

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"ride-chat-sync/internal/models"
)

// LocalIDPrefix marks ids generated for optimistic sends so they cannot collide with server ids.
const LocalIDPrefix = "local-"

// Source records how a message first reached the log. Lower sources sort first on timestamp ties.
type Source int

const (
	SourceHistory Source = iota
	SourceLive
)

type entry struct {
	msg    models.Message
	source Source
	seq    uint64
}

// Log is an ordered set of messages keyed by message id.
// It is not safe for concurrent use; the owning controller serializes access.
type Log struct {
	entries  []*entry
	byID     map[string]*entry
	seq      uint64
	onChange func()
	newID    func() string
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator overrides the optimistic id generator.
func WithIDGenerator(f func() string) Option {
	return func(l *Log) { l.newID = f }
}

// WithClock overrides the time source used for optimistic messages.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an empty log. onChange is called after every mutation and may be nil.
func New(onChange func(), opts ...Option) *Log {
	l := &Log{
		byID:     make(map[string]*entry),
		onChange: onChange,
		newID:    func() string { return LocalIDPrefix + uuid.NewString() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit inserts a live message. A message whose id is already present is
// merged: its read flag can only strengthen and the incoming copy is otherwise
// discarded. It reports whether the log changed.
func (l *Log) Admit(msg models.Message) bool {
	changed := l.admit(msg, SourceLive)
	if changed {
		l.changed()
	}
	return changed
}

// AdmitBatch admits a history snapshot in snapshot order and returns how many
// entries changed the log.
func (l *Log) AdmitBatch(msgs []models.Message) int {
	n := 0
	for _, msg := range msgs {
		if l.admit(msg, SourceHistory) {
			n++
		}
	}
	if n > 0 {
		l.changed()
	}
	return n
}

// MarkReadBySender marks every message sent by role as read and returns the number flipped.
func (l *Log) MarkReadBySender(role models.Role) int {
	n := 0
	for _, e := range l.entries {
		if e.msg.SenderRole == role && !e.msg.Read {
			e.msg.Read = true
			n++
		}
	}
	if n > 0 {
		l.changed()
	}
	return n
}

// ComposeOptimistic inserts a locally authored message before the server has
// acknowledged it. Local sends are read from the sender's point of view.
func (l *Log) ComposeOptimistic(body string, from models.ConversationIdentity) models.Message {
	msg := models.Message{
		ID:             l.newID(),
		ConversationID: from.ConversationID,
		SenderID:       from.ParticipantID,
		SenderRole:     from.Role,
		Body:           body,
		CreatedAt:      l.now(),
		Read:           true,
		Local:          true,
	}
	l.admit(msg, SourceLive)
	l.changed()
	return msg
}

// Snapshot returns a copy of the messages in display order.
func (l *Log) Snapshot() []models.Message {
	out := make([]models.Message, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.msg
	}
	return out
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (models.Message, bool) {
	e, ok := l.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return e.msg, true
}

// Len returns the number of messages.
func (l *Log) Len() int {
	return len(l.entries)
}

// Unread counts messages from role that are not read yet.
func (l *Log) Unread(role models.Role) int {
	n := 0
	for _, e := range l.entries {
		if e.msg.SenderRole == role && !e.msg.Read {
			n++
		}
	}
	return n
}

func (l *Log) admit(msg models.Message, source Source) bool {
	existing, ok := l.byID[msg.ID]
	if !ok {
		l.seq++
		e := &entry{msg: msg, source: source, seq: l.seq}
		l.byID[msg.ID] = e
		l.insert(e)
		return true
	}

	changed := false
	if msg.Read && !existing.msg.Read {
		existing.msg.Read = true
		changed = true
	}
	// A message later seen in a history snapshot takes its history position,
	// which keeps the final order independent of delivery interleaving.
	if source < existing.source {
		l.remove(existing)
		l.seq++
		existing.source = source
		existing.seq = l.seq
		l.insert(existing)
		changed = true
	}
	return changed
}

func (l *Log) insert(e *entry) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return less(e, l.entries[i])
	})
	l.entries = append(l.entries, nil)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}

func (l *Log) remove(e *entry) {
	for i, cur := range l.entries {
		if cur == e {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *Log) changed() {
	if l.onChange != nil {
		l.onChange()
	}
}

func less(a, b *entry) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	if a.source != b.source {
		return a.source < b.source
	}
	return a.seq < b.seq
}
