package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/messaging"
	"github.com/ptpplayersteachingplayers/ptp-messaging/internal/store"
)

// ChatHTTP exposes the conversation and message endpoints.
type ChatHTTP interface {
	ListMyConversations(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	CreateSupportConversation(c *gin.Context)
	CreateTrainerConversation(c *gin.Context)
}

// ChatHandler bridges HTTP with the messaging client.
type ChatHandler struct {
	Client *messaging.Client
	Logger *slog.Logger
}

// ListMyConversations returns the caller's conversations, most recent first.
func (h ChatHandler) ListMyConversations(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversations, err := h.Client.FetchConversationsForUser(c.Request.Context(), p.ID)
	if err != nil {
		h.respondStoreError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": conversations})
}

// ListMessages returns a conversation's messages if the caller participates.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conv, ok := h.requireParticipant(c, p)
	if !ok {
		return
	}
	messages, err := h.Client.FetchMessages(c.Request.Context(), conv.ID)
	if err != nil {
		h.respondStoreError(c, err, "list messages", "conversation_id", conv.ID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": messages})
}

// SendMessage posts a message to a conversation the caller participates in.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	conv, ok := h.requireParticipant(c, p)
	if !ok {
		return
	}
	message, err := h.Client.SendMessage(c.Request.Context(), conv.ID, p.ID, req.Text)
	if err != nil {
		h.respondStoreError(c, err, "send message", "conversation_id", conv.ID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// CreateSupportConversation gets or creates the caller's support thread.
func (h ChatHandler) CreateSupportConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversation, err := h.Client.EnsureSupportConversation(c.Request.Context(), p.ID, p.Name)
	if err != nil {
		h.respondStoreError(c, err, "ensure support conversation", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// CreateTrainerConversation gets or creates a thread with a trainer,
// optionally scoped to a camp.
func (h ChatHandler) CreateTrainerConversation(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		TrainerID string `json:"trainer_id"`
		CampID    string `json:"camp_id"`
		Title     string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.TrainerID = strings.TrimSpace(req.TrainerID)
	if req.TrainerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trainer_id is required"})
		return
	}
	if req.TrainerID == p.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start chat with yourself"})
		return
	}
	conversation, err := h.Client.EnsureTrainerConversation(c.Request.Context(), p.ID, req.TrainerID, req.CampID, req.Title)
	if err != nil {
		h.respondStoreError(c, err, "ensure trainer conversation", "user_id", p.ID, "trainer_id", req.TrainerID)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// requireParticipant loads the :id conversation and gates on membership.
func (h ChatHandler) requireParticipant(c *gin.Context, p principal) (messaging.Conversation, bool) {
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return messaging.Conversation{}, false
	}
	conv, err := h.Client.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		h.respondStoreError(c, err, "load conversation", "conversation_id", conversationID, "user_id", p.ID)
		return messaging.Conversation{}, false
	}
	if !conv.HasParticipant(p.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return messaging.Conversation{}, false
	}
	return conv, true
}

func (h ChatHandler) respondStoreError(c *gin.Context, err error, action string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.Error("messaging call failed", append([]any{"action", action, "error", err}, attrs...)...)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "messaging unavailable"})
	}
}

var _ ChatHTTP = (*ChatHandler)(nil)
