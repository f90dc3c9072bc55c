// README: Chat handlers: session lifecycle and one dialogue turn per POST.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"outing/internal/modules/conversation"
	"outing/internal/service"
)

const maxMessageRunes = 2000

// ChatAPI is the slice of service.ChatService the handlers need.
type ChatAPI interface {
	CreateSession(ctx context.Context) (*service.SessionStart, error)
	HandleTurn(ctx context.Context, sessionID, text string) (*service.TurnResult, error)
	History(ctx context.Context, sessionID string) (*service.History, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	chat        ChatAPI
	turnTimeout time.Duration
}

func NewChatHandler(chat ChatAPI, turnTimeout time.Duration) *ChatHandler {
	return &ChatHandler{chat: chat, turnTimeout: turnTimeout}
}

type chatReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CreateSession handles POST /api/chat/session.
func (h *ChatHandler) CreateSession(c *gin.Context) {
	start, err := h.chat.CreateSession(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, start)
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		writeError(c, http.StatusBadRequest, "missing session_id or message")
		return
	}
	if !isValidSessionID(req.SessionID) {
		writeServiceError(c, conversation.ErrNotFound)
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		writeError(c, http.StatusBadRequest, "message too long")
		return
	}

	ctx := c.Request.Context()
	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	res, err := h.chat.HandleTurn(ctx, req.SessionID, req.Message)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// History handles GET /api/chat/session/:id.
func (h *ChatHandler) History(c *gin.Context) {
	id := c.Param("id")
	if !isValidSessionID(id) {
		writeServiceError(c, conversation.ErrNotFound)
		return
	}
	hist, err := h.chat.History(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, hist)
}

// Delete handles DELETE /api/chat/session/:id.
func (h *ChatHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if !isValidSessionID(id) {
		writeServiceError(c, conversation.ErrNotFound)
		return
	}
	if err := h.chat.DeleteSession(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"session_id": id, "deleted": true})
}
