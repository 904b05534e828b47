package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ride-chat-sync/internal/mocks"
	"ride-chat-sync/internal/observability"
)

func TestPublishConversationEvent(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	observability.SetPublisher(publisher)
	defer observability.SetPublisher(nil)

	publisher.On("Publish", mock.Anything, observability.RoutingConversationOpened, mock.MatchedBy(func(env observability.EventEnvelope) bool {
		return env.Name == "conversation_opened" && env.EventType == "conversation_events"
	}), map[string]string{"x-request-id": "r1"}).Return(nil).Once()

	err := observability.PublishConversationEvent(context.Background(), observability.RoutingConversationOpened, "conversation_opened",
		map[string]interface{}{"conversation_id": "c1"}, observability.BuildHeaders("r1", ""))
	assert.NoError(t, err)
	publisher.AssertExpectations(t)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	observability.SetPublisher(nil)
	err := observability.PublishEvent(context.Background(), observability.RoutingConversationClosed, observability.EventEnvelope{Name: "x"}, nil)
	assert.NoError(t, err)
}

func TestPublishEventError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	observability.SetPublisher(publisher)
	defer observability.SetPublisher(nil)

	publisher.On("Publish", mock.Anything, observability.RoutingHistoryTimedOut, mock.Anything, mock.Anything).Return(assert.AnError).Once()
	err := observability.PublishEvent(context.Background(), observability.RoutingHistoryTimedOut, observability.EventEnvelope{}, nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, observability.BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, observability.BuildHeaders("r", "t"))
}
