package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ride-chat-sync/internal/chatsync"
	"ride-chat-sync/internal/middleware"
	"ride-chat-sync/internal/models"
	"ride-chat-sync/internal/observability"
	"ride-chat-sync/internal/telemetry"
)

// NameResolver looks up the display name of a participant.
type NameResolver interface {
	DisplayName(ctx context.Context, participantID string) (string, error)
}

// ConversationHandler exposes open conversations to the UI layer.
type ConversationHandler struct {
	manager *chatsync.Manager
	names   NameResolver
	audit   *telemetry.AuditEmitter
	logger  *zap.Logger
}

// NewConversationHandler builds a ConversationHandler. names and audit may be nil.
func NewConversationHandler(manager *chatsync.Manager, names NameResolver, audit *telemetry.AuditEmitter, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		manager: manager,
		names:   names,
		audit:   audit,
		logger:  logger,
	}
}

// Register mounts the conversation routes.
func (h *ConversationHandler) Register(r gin.IRoutes) {
	r.POST("/conversations", h.Open)
	r.GET("/conversations/:conversation_id", h.Get)
	r.POST("/conversations/:conversation_id/messages", h.PostMessage)
	r.POST("/conversations/:conversation_id/input", h.Input)
	r.GET("/conversations/:conversation_id/stream", h.Stream)
	r.DELETE("/conversations/:conversation_id", h.Close)
}

// Open starts synchronizing a conversation for the calling participant.
func (h *ConversationHandler) Open(c *gin.Context) {
	var req struct {
		ConversationID      string `json:"conversation_id" binding:"required"`
		Role                string `json:"role" binding:"required"`
		RemoteParticipantID string `json:"remote_participant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	id := models.ConversationIdentity{
		ConversationID: req.ConversationID,
		ParticipantID:  middleware.ParticipantID(c),
		Role:           role,
	}

	var overrides []func(*chatsync.Options)
	if name := h.remoteName(c.Request.Context(), req.RemoteParticipantID); name != "" {
		overrides = append(overrides, chatsync.WithRemoteName(name))
	}

	ctrl, err := h.manager.Open(c.Request.Context(), id, overrides...)
	switch {
	case errors.Is(err, chatsync.ErrConversationExists):
		c.JSON(http.StatusConflict, gin.H{"error": "conversation already open"})
		return
	case errors.Is(err, models.ErrMissingField), errors.Is(err, models.ErrUnknownRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("open conversation failed", zap.String("conversation_id", id.ConversationID), zap.Error(err))
		h.emit(c, "conversation_open", id.ConversationID, "failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not open conversation"})
		return
	}

	h.emit(c, "conversation_open", id.ConversationID, "ok")
	c.JSON(http.StatusCreated, ctrl.View())
}

// Get returns the current view of a conversation.
func (h *ConversationHandler) Get(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.View())
}

// PostMessage sends a message. A transport failure still answers 202 with the
// optimistic message and a warning.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := ctrl.SendMessage(c.Request.Context(), req.Body)
	switch {
	case errors.Is(err, chatsync.ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is empty"})
	case errors.Is(err, chatsync.ErrClosed):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation closed"})
	case errors.Is(err, chatsync.ErrTransport):
		c.JSON(http.StatusAccepted, gin.H{"message": msg, "warning": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
	default:
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

// Input reports the composer text after a keystroke.
func (h *ConversationHandler) Input(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ctrl.InputChanged(req.Text); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation closed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream pushes the view as server-sent events until the client leaves or
// the conversation closes.
func (h *ConversationHandler) Stream(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	updates, cancel := ctrl.Subscribe()
	defer cancel()

	c.SSEvent("view", ctrl.View())
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-updates:
			if !ok {
				c.SSEvent("closed", gin.H{"conversation_id": ctrl.Identity().ConversationID})
				return false
			}
			c.SSEvent(u.Kind.String(), ctrl.View())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Close tears the conversation down.
func (h *ConversationHandler) Close(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	conversationID := ctrl.Identity().ConversationID
	if err := h.manager.Close(conversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	h.emit(c, "conversation_close", conversationID, "ok")
	c.Status(http.StatusNoContent)
}

// controller resolves the path conversation and checks the caller owns it.
func (h *ConversationHandler) controller(c *gin.Context) (*chatsync.Controller, bool) {
	ctrl, err := h.manager.Get(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	if ctrl.Identity().ParticipantID != middleware.ParticipantID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return nil, false
	}
	return ctrl, true
}

func (h *ConversationHandler) remoteName(ctx context.Context, participantID string) string {
	if h.names == nil || participantID == "" {
		return ""
	}
	name, err := h.names.DisplayName(ctx, participantID)
	if err != nil {
		h.logger.Warn("remote display name lookup failed", zap.String("participant_id", participantID), zap.Error(err))
		return ""
	}
	return name
}

func (h *ConversationHandler) emit(c *gin.Context, action, conversationID, outcome string) {
	h.audit.Emit(c.Request.Context(), observability.RequestID(c), middleware.ParticipantID(c), telemetry.AuditPayload{
		Action:         action,
		ConversationID: conversationID,
		Outcome:        outcome,
	})
}
