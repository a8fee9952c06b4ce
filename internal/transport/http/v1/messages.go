package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// SendMessageRequest is the body of a user message submission.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessages retrieves messages for a conversation, most recent first.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	ctx := c.Request().Context()
	if _, err := h.service.GetConversation(ctx, conversationID); err != nil {
		return errorJSON(c, err)
	}
	messages, err := h.service.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return errorJSON(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit,
	})
}

// SendMessage submits a user message and runs the conversation loop.
// POST /v1/conversations/:conversation_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	conversationID := c.Param("conversation_id")

	// a client hanging up must not abort persistence or tool side effects
	ctx := context.WithoutCancel(c.Request().Context())
	result, err := h.service.HandleUserMessage(ctx, conversationID, req.Content, h.channel(conversationID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
