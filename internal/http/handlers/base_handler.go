// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"outing/internal/http/middleware"
	"outing/internal/modules/conversation"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidSessionID accepts the uuid form the session service hands out.
func isValidSessionID(v string) bool {
	return len(v) == 36 && uuid.Validate(v) == nil
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		writeError(c, http.StatusNotFound, conversation.ErrNotFound.Error())
	case errors.Is(err, conversation.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[%s] %s %s: %v", c.GetString(middleware.TraceIDKey), c.Request.Method, c.Request.URL.Path, err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
