package http

import (
	"errors"
	"net/http"

	"smsrelay/internal/domain/conversation"

	"github.com/gin-gonic/gin"
)

// mapDomainError translates a relay error into an HTTP status code and a
// user-facing message.
//
// Returns (0, "") if the error is not a recognized domain error, letting
// the caller decide on a default (typically 500).
func mapDomainError(err error) (status int, message string) {
	if err == nil {
		return 0, ""
	}

	switch {
	case errors.Is(err, conversation.ErrValidation):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, "Conversation not found"

	case errors.Is(err, conversation.ErrConflict):
		return http.StatusConflict, err.Error()

	case errors.Is(err, conversation.ErrExternalUnavailable):
		return http.StatusBadGateway, "Upstream service unavailable"

	case errors.Is(err, conversation.ErrStorageUnavailable):
		return http.StatusInternalServerError, "Storage unavailable"

	default:
		return 0, ""
	}
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// writeMappedError writes an error response using domain error mapping.
// Unrecognized errors fall back to defaultStatus and defaultMsg.
func (h *handlers) writeMappedError(c *gin.Context, err error, defaultStatus int, defaultMsg string) {
	status, msg := mapDomainError(err)
	if status == 0 {
		status, msg = defaultStatus, defaultMsg
	}
	if status >= http.StatusInternalServerError {
		h.log(c).Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	} else {
		h.log(c).Warn("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, errorBody{Status: "error", Error: msg})
}
