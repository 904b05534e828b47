package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-chat-sync/internal/chatlog"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/timer"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	loader   *Loader
	clock    *timer.ManualClock
	log      *chatlog.Log
	requests int
	settled  []State
}

func newHarness(requestErr error) *harness {
	h := &harness{clock: timer.NewManualClock(t0), log: chatlog.New(nil)}
	h.loader = New(Config{
		Clock: h.clock,
		Request: func() error {
			h.requests++
			return requestErr
		},
		Admit:         h.log.AdmitBatch,
		OnStateChange: func(s State) { h.settled = append(h.settled, s) },
	})
	return h
}

func hi() models.Message {
	return models.Message{ID: "h1", ConversationID: "c1", SenderRole: models.RoleResponder, Body: "Hi", CreatedAt: t0}
}

func TestSnapshotSettlesLoad(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())
	assert.Equal(t, 1, h.requests)
	assert.Equal(t, StatePending, h.loader.State())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, h.loader.HandleSnapshot([]models.Message{hi()}))
	assert.Equal(t, StateLoaded, h.loader.State())
	assert.Equal(t, 1, h.log.Len())

	h.clock.Advance(DefaultTimeout)
	assert.Equal(t, []State{StateLoaded}, h.settled, "deadline cancelled by the snapshot")
}

func TestEmptySnapshotIsValid(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())

	h.loader.HandleSnapshot(nil)
	assert.Equal(t, StateLoaded, h.loader.State())
	assert.Equal(t, 0, h.log.Len())
}

func TestTimeoutFallbackFiresOnce(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())

	h.clock.Advance(DefaultTimeout)
	assert.Equal(t, StateTimedOut, h.loader.State())
	assert.Equal(t, []State{StateTimedOut}, h.settled)

	// A late snapshot still merges but leaves the terminal state alone.
	assert.Equal(t, 1, h.loader.HandleSnapshot([]models.Message{hi()}))
	assert.Equal(t, StateTimedOut, h.loader.State())
	assert.Equal(t, 1, h.log.Len())

	h.clock.Advance(time.Hour)
	assert.Equal(t, []State{StateTimedOut}, h.settled)
}

func TestRepeatedSnapshotsAreNotDoubleCounted(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())

	h.loader.HandleSnapshot([]models.Message{hi()})
	assert.Equal(t, 0, h.loader.HandleSnapshot([]models.Message{hi()}))
	assert.Equal(t, 1, h.log.Len())
	assert.Equal(t, []State{StateLoaded}, h.settled)
}

func TestStartOnlyOnce(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())
	assert.ErrorIs(t, h.loader.Start(), ErrStarted)
	assert.Equal(t, 1, h.requests)
}

func TestRequestFailureStillArmsDeadline(t *testing.T) {
	h := newHarness(assert.AnError)
	assert.ErrorIs(t, h.loader.Start(), assert.AnError)

	h.clock.Advance(DefaultTimeout)
	assert.Equal(t, StateTimedOut, h.loader.State())
}

func TestStopCancelsDeadline(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.loader.Start())
	h.loader.Stop()

	h.clock.Advance(time.Hour)
	assert.Equal(t, StatePending, h.loader.State())
	assert.Empty(t, h.settled)
}

func TestStateJSON(t *testing.T) {
	raw, err := json.Marshal(map[string]State{"state": StateTimedOut})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"timed_out"}`, string(raw))
}
