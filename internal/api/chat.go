package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/coach"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// sendChat persists one user/assistant exchange. The coach manager owns
// trial gating, session repair and the model call.
func (h *Handler) sendChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message and sessionId are required"})
		return
	}

	result, err := h.coach.Chat(coach.ChatRequest{
		Context:   c.Request.Context(),
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, coach.ErrTrialLimitReached):
			c.JSON(http.StatusForbidden, gin.H{"error": "Trial limit reached. Please upgrade to continue."})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       result.AssistantMessage.Content,
		"sessionId":     result.SessionID,
		"messageId":     result.AssistantMessage.ID,
		"userMessageId": result.UserMessage.ID,
		"isNewSession":  result.IsNewSession,
	})
}

func (h *Handler) getChatHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	session, messages, err := h.assistant.GetSessionWithMessages(c.Request.Context(), sessionID)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session.UserID != "" && session.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, gin.H{
			"id":        msg.ID,
			"role":      strings.ToLower(string(msg.Role)),
			"content":   msg.Content,
			"timestamp": msg.CreatedAt,
			"isEdited":  msg.IsEdited,
			"metadata":  msg.Metadata,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type updateMessageRequest struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

func (h *Handler) updateChatMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.MessageID == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId and content are required"})
		return
	}
	updated, err := h.assistant.UpdateMessage(c.Request.Context(), req.MessageID, req.Content)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.coach.Purge(userID, updated.SessionID)
	c.JSON(http.StatusOK, gin.H{
		"message": "Message updated successfully",
		"data":    updated,
	})
}

func (h *Handler) deleteChatMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	messageID := c.Query("messageId")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}
	sessionID, err := h.assistant.DeleteMessage(c.Request.Context(), messageID)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.coach.Purge(userID, sessionID)
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}
