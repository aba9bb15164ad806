package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

// ConversationService is the messaging core as seen by the HTTP layer.
type ConversationService interface {
	ResolveDirect(ctx context.Context, userA, userB int64) (models.Conversation, error)
	ListFor(ctx context.Context, userID int64, filter models.ListFilter) ([]models.ConversationSummary, error)
	ListMessages(ctx context.Context, userID, conversationID, beforeSeq int64, limit int) (messaging.MessagePage, error)
	Send(ctx context.Context, senderID, conversationID int64, content string, attachments []string) (models.Message, error)
	DeleteMessage(ctx context.Context, userID, conversationID, messageID int64) error
	MarkRead(ctx context.Context, userID, conversationID, uptoSeq int64) (int64, error)
	Pin(ctx context.Context, userID, conversationID int64) error
	Unpin(ctx context.Context, userID, conversationID int64) error
	Archive(ctx context.Context, userID, conversationID int64) error
	Unarchive(ctx context.Context, userID, conversationID int64) error
	Delete(ctx context.Context, userID, conversationID int64) error
}

// TypingService tracks typing indicators.
type TypingService interface {
	SetTyping(ctx context.Context, userID, conversationID int64) error
	StopTyping(ctx context.Context, userID, conversationID int64) error
	TypingFor(ctx context.Context, userID, conversationID int64) ([]int64, error)
}

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	conversations ConversationService
	typing        TypingService
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations ConversationService, typing TypingService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, typing: typing}
}

// Register wires the conversation routes onto an authenticated group.
func (h *ConversationHandler) Register(r gin.IRouter) {
	r.POST("/conversations/direct", h.ResolveDirect)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:conversation_id/messages", h.ListMessages)
	r.POST("/conversations/:conversation_id/messages", h.SendMessage)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", h.DeleteMessage)
	r.POST("/conversations/:conversation_id/read", h.MarkRead)
	r.POST("/conversations/:conversation_id/typing", h.StartTyping)
	r.DELETE("/conversations/:conversation_id/typing", h.StopTyping)
	r.GET("/conversations/:conversation_id/typing", h.Typing)
	r.PUT("/conversations/:conversation_id/pin", h.member((ConversationService).Pin))
	r.DELETE("/conversations/:conversation_id/pin", h.member((ConversationService).Unpin))
	r.PUT("/conversations/:conversation_id/archive", h.member((ConversationService).Archive))
	r.DELETE("/conversations/:conversation_id/archive", h.member((ConversationService).Unarchive))
	r.DELETE("/conversations/:conversation_id", h.member((ConversationService).Delete))
}

// ResolveDirect returns the direct conversation with another user, creating it if needed.
func (h *ConversationHandler) ResolveDirect(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	conv, err := h.conversations.ResolveDirect(c.Request.Context(), currentUser(c), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// ListConversations returns the caller's conversations, active or archived.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	filter, ok := models.ParseListFilter(c.Query("filter"))
	if !ok {
		badRequest(c, "filter must be active or archived")
		return
	}

	summaries, err := h.conversations.ListFor(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// ListMessages pages backwards through a conversation's history.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	var beforeSeq int64
	if raw := c.Query("before_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			badRequest(c, "invalid before_seq")
			return
		}
		beforeSeq = parsed
	}
	var limit int
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.conversations.ListMessages(c.Request.Context(), currentUser(c), conversationID, beforeSeq, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	messages := page.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "has_more": page.HasMore})
}

// SendMessage posts a message into a conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		Content     string   `json:"content"`
		Attachments []string `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, err := h.conversations.Send(c.Request.Context(), currentUser(c), conversationID, req.Content, req.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// DeleteMessage soft-deletes one of the caller's messages.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, "message_id")
	if !ok {
		return
	}

	if err := h.conversations.DeleteMessage(c.Request.Context(), currentUser(c), conversationID, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead advances the caller's read position. A missing upto_seq marks everything read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	var req struct {
		UptoSeq int64 `json:"upto_seq"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	seq, err := h.conversations.MarkRead(c.Request.Context(), currentUser(c), conversationID, req.UptoSeq)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_seq": seq})
}

// StartTyping records a typing heartbeat.
func (h *ConversationHandler) StartTyping(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	if err := h.typing.SetTyping(c.Request.Context(), currentUser(c), conversationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StopTyping clears the caller's typing indicator.
func (h *ConversationHandler) StopTyping(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	if err := h.typing.StopTyping(c.Request.Context(), currentUser(c), conversationID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Typing lists the other participants currently typing.
func (h *ConversationHandler) Typing(c *gin.Context) {
	conversationID, ok := int64Param(c, "conversation_id")
	if !ok {
		return
	}
	users, err := h.typing.TypingFor(c.Request.Context(), currentUser(c), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"typing": users})
}

func (h *ConversationHandler) member(op func(ConversationService, context.Context, int64, int64) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID, ok := int64Param(c, "conversation_id")
		if !ok {
			return
		}
		if err := op(h.conversations, c.Request.Context(), currentUser(c), conversationID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
