package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ride-chat-sync/internal/chatsync"
	"ride-chat-sync/internal/middleware"
	"ride-chat-sync/internal/mocks"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/observability"
	"ride-chat-sync/internal/telemetry"
	"ride-chat-sync/internal/timer"
)

type staticNames map[string]string

func (s staticNames) DisplayName(_ context.Context, id string) (string, error) {
	if name, ok := s[id]; ok {
		return name, nil
	}
	return "", assert.AnError
}

type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool {
	return r.closed
}

type fixture struct {
	router  *gin.Engine
	manager *chatsync.Manager
	adapter *mocks.AdapterFake
}

func setup(t *testing.T, audit *telemetry.AuditEmitter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	adapter := mocks.NewAdapterFake()
	manager := chatsync.NewManager(adapter, chatsync.Options{
		Clock: timer.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
	t.Cleanup(manager.CloseAll)

	r := gin.New()
	r.Use(observability.RequestLogger(zap.NewNop()))
	group := r.Group("/", middleware.Participant(nil, "u1"))
	NewConversationHandler(manager, staticNames{"d7": "Sam"}, audit, nil).Register(group)
	return &fixture{router: r, manager: manager, adapter: adapter}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	rec := f.do(http.MethodPost, "/conversations", `{"conversation_id":"c1","role":"rider","remote_participant_id":"d7"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestOpenConversation(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, telemetry.AuditRoutingKey, mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Action == "conversation_open" && env.Payload.Outcome == "ok" && env.ParticipantID == "u1" && env.RequestID != ""
	}), mock.Anything).Return(nil).Once()
	f := setup(t, telemetry.NewAuditEmitter(pub, "ride-chat-sync", "test", nil))

	rec := f.do(http.MethodPost, "/conversations", `{"conversation_id":"c1","role":"rider"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var view struct {
		Identity     models.ConversationIdentity `json:"identity"`
		HistoryState string                      `json:"history_state"`
		Messages     []models.Message            `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "pending", view.HistoryState)
	assert.Equal(t, models.RoleRequester, view.Identity.Role)
	assert.Equal(t, "u1", view.Identity.ParticipantID)
	assert.Equal(t, []models.CommandType{models.CommandRequestHistory}, f.adapter.CommandTypes())
	pub.AssertExpectations(t)
}

func TestOpenConversationRejections(t *testing.T) {
	f := setup(t, nil)
	f.open(t)

	rec := f.do(http.MethodPost, "/conversations", `{"conversation_id":"c1","role":"rider"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/conversations", `{"conversation_id":"c2","role":"pilot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/conversations", `{"role":"driver"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenConversationAdapterFailure(t *testing.T) {
	f := setup(t, nil)
	f.adapter.RegisterErr = assert.AnError

	rec := f.do(http.MethodPost, "/conversations", `{"conversation_id":"c1","role":"driver"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 0, f.manager.Len())
}

func TestGetConversation(t *testing.T) {
	f := setup(t, nil)
	f.open(t)

	rec := f.do(http.MethodGet, "/conversations/c1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/c1", "", "X-Participant-Id", "intruder")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMessage(t *testing.T) {
	f := setup(t, nil)
	f.open(t)

	rec := f.do(http.MethodPost, "/conversations/c1/messages", `{"body":"On my way"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "On my way", resp.Message.Body)
	assert.True(t, resp.Message.Read)

	rec = f.do(http.MethodPost, "/conversations/c1/messages", `{"body":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.adapter.SetSendErr(assert.AnError)
	rec = f.do(http.MethodPost, "/conversations/c1/messages", `{"body":"still here"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "warning")

	ctrl, err := f.manager.Get("c1")
	require.NoError(t, err)
	assert.Len(t, ctrl.Snapshot(), 2)
}

func TestInput(t *testing.T) {
	f := setup(t, nil)
	f.open(t)

	rec := f.do(http.MethodPost, "/conversations/c1/input", `{"text":"O"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.adapter.Count(models.CommandTypingStart))

	rec = f.do(http.MethodPost, "/conversations/c1/input", `{"text":""}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.adapter.Count(models.CommandTypingStop))
}

func TestCloseConversation(t *testing.T) {
	f := setup(t, nil)
	f.open(t)

	rec := f.do(http.MethodDelete, "/conversations/c1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.adapter.Unregistered)

	rec = f.do(http.MethodDelete, "/conversations/c1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEndsWhenConversationCloses(t *testing.T) {
	f := setup(t, nil)
	f.open(t)
	ctrl, err := f.manager.Get("c1")
	require.NoError(t, err)
	ctrl.Teardown()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/stream", nil)
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	f.router.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "event:view")
	assert.Contains(t, body, "event:closed")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}
