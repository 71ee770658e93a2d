package http

import (
	"net/http"
	"strings"

	"smsrelay/internal/domain/conversation"

	"github.com/gin-gonic/gin"
)

const recentConversationsLimit = 20

type conversationListResponse struct {
	Status        string                                  `json:"status"`
	Count         int                                     `json:"count"`
	Conversations []conversation.ConversationWithMessages `json:"conversations"`
}

type conversationResponse struct {
	Status       string                                `json:"status"`
	Conversation conversation.ConversationWithMessages `json:"conversation"`
}

func (h *handlers) handleListConversations(c *gin.Context) {
	items, err := h.conversations.ListRecentConversations(c.Request.Context(), recentConversationsLimit)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}
	if items == nil {
		items = []conversation.ConversationWithMessages{}
	}
	c.JSON(http.StatusOK, conversationListResponse{Status: "success", Count: len(items), Conversations: items})
}

func (h *handlers) handleGetConversation(c *gin.Context) {
	conversationID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()
	conv, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to fetch conversation")
		return
	}
	msgs, err := h.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		h.writeMappedError(c, err, http.StatusInternalServerError, "Failed to fetch conversation")
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	c.JSON(http.StatusOK, conversationResponse{
		Status:       "success",
		Conversation: conversation.ConversationWithMessages{Conversation: conv, Messages: msgs},
	})
}
