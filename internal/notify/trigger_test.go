package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ride-chat-sync/internal/chatlog"
	"ride-chat-sync/internal/mocks"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/notify"
)

var rider = models.ConversationIdentity{ConversationID: "c1", ParticipantID: "u1", Role: models.RoleRequester}

func driverMessage(id string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "d7",
		SenderRole:     models.RoleResponder,
		Body:           "I'm outside",
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTrigger(dispatcher notify.Dispatcher, logger *zap.Logger) (*notify.Trigger, *chatlog.Log, *int) {
	log := chatlog.New(nil)
	markReads := 0
	tr := notify.NewTrigger(notify.Config{
		Identity:   rider,
		Log:        log,
		Dispatcher: dispatcher,
		MarkRead:   func() { markReads++ },
		Logger:     logger,
	})
	return tr, log, &markReads
}

func TestRemoteMessageNotifiesAndMarksRead(t *testing.T) {
	dispatcher := new(mocks.DispatcherMock)
	dispatcher.On("Dispatch", mock.Anything, notify.Notification{
		ConversationID: "c1",
		SenderID:       "d7",
		SenderName:     "Driver",
		Body:           "I'm outside",
		Classification: "text",
		Priority:       "high",
	}).Return(nil).Once()

	tr, log, markReads := newTrigger(dispatcher, nil)
	assert.True(t, tr.Handle(driverMessage("m1")))
	tr.Wait()

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, *markReads)
	dispatcher.AssertExpectations(t)
}

func TestDuplicateDeliveryDoesNotRenotify(t *testing.T) {
	dispatcher := new(mocks.DispatcherMock)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()

	tr, log, markReads := newTrigger(dispatcher, nil)
	tr.Handle(driverMessage("m1"))
	assert.False(t, tr.Handle(driverMessage("m1")))
	tr.Wait()

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, *markReads)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestSelfMessageSkipsNotificationAndMarkRead(t *testing.T) {
	dispatcher := new(mocks.DispatcherMock)
	tr, log, markReads := newTrigger(dispatcher, nil)

	own := driverMessage("s1")
	own.SenderID = "u1"
	own.SenderRole = models.RoleRequester
	assert.False(t, tr.Handle(own))
	tr.Wait()

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 0, *markReads)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestDispatchFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dispatcher := new(mocks.DispatcherMock)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	tr, log, markReads := newTrigger(dispatcher, zap.New(core))
	assert.True(t, tr.Handle(driverMessage("m1")))
	tr.Wait()

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, 1, *markReads)
	assert.Equal(t, 1, logs.FilterMessage("notification dispatch failed").Len())
}

func TestSenderNamePreference(t *testing.T) {
	var got []string
	dispatcher := new(mocks.DispatcherMock)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = append(got, args.Get(1).(notify.Notification).SenderName)
	}).Return(nil)

	log := chatlog.New(nil)
	tr := notify.NewTrigger(notify.Config{Identity: rider, Log: log, Dispatcher: dispatcher, RemoteName: "Sam"})

	named := driverMessage("m1")
	named.SenderName = "Alex"
	tr.Handle(named)
	tr.Wait()
	tr.Handle(driverMessage("m2"))
	tr.Wait()

	assert.Equal(t, []string{"Alex", "Sam"}, got)
}

func TestCloseCancelsInFlightDispatch(t *testing.T) {
	dispatcher := new(mocks.DispatcherMock)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.Canceled).Once()

	tr, _, _ := newTrigger(dispatcher, nil)
	tr.Handle(driverMessage("m1"))

	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not cancel the dispatch")
	}
	dispatcher.AssertExpectations(t)
}
