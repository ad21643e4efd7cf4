package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/models"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/assistant"
)

func (h *Handler) listSessions(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var (
		sessions []*models.Session
		err      error
	)
	if query := strings.TrimSpace(c.Query("search")); query != "" {
		sessions, err = h.assistant.SearchSessions(c.Request.Context(), userID, query)
	} else {
		sessions, err = h.assistant.ListSessions(c.Request.Context(), userID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = make([]*models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

type createSessionRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
}

func (h *Handler) createSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.assistant.CreateSession(c.Request.Context(), userID, req.Title, models.SessionCategory(req.Category))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *Handler) getSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Param("id")
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
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": messages,
	})
}

type updateSessionRequest struct {
	SessionID  string  `json:"sessionId"`
	Title      *string `json:"title"`
	Category   *string `json:"category"`
	IsPinned   *bool   `json:"isPinned"`
	IsArchived *bool   `json:"isArchived"`
	FolderID   *string `json:"folderId"`
}

func (h *Handler) updateSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	existing, err := h.assistant.GetSession(c.Request.Context(), sessionID)
	if err != nil || (existing.UserID != "" && existing.UserID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	upd := assistant.SessionUpdate{
		Title:      req.Title,
		IsPinned:   req.IsPinned,
		IsArchived: req.IsArchived,
		FolderID:   req.FolderID,
	}
	if req.Category != nil {
		category := models.SessionCategory(*req.Category)
		upd.Category = &category
	}
	session, err := h.assistant.UpdateSession(c.Request.Context(), sessionID, upd)
	if err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) deleteSession(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if err := h.assistant.DeleteSession(c.Request.Context(), userID, sessionID); err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.coach.Purge(userID, sessionID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) getSessionStats(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	session, err := h.assistant.GetSession(c.Request.Context(), sessionID)
	if err != nil || (session.UserID != "" && session.UserID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	stats, err := h.assistant.GetSessionStats(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

type folderRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

func (h *Handler) listFolders(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folders, err := h.assistant.ListFolders(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if folders == nil {
		folders = make([]*models.Folder, 0)
	}
	c.JSON(http.StatusOK, gin.H{"folders": folders})
}

func (h *Handler) createFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	folder, err := h.assistant.CreateFolder(c.Request.Context(), userID, req.Name, req.Description, req.Color)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"folder": folder})
}

func (h *Handler) updateFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folderID := c.Param("id")
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.assistant.UpdateFolder(c.Request.Context(), userID, folderID, req.Name, req.Description, req.Color); err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "folder not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteFolder(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	folderID := c.Param("id")
	if err := h.assistant.DeleteFolder(c.Request.Context(), userID, folderID); err != nil {
		if isNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "folder not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
