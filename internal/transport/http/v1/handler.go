// Package v1 provides the HTTP handlers of the conversation API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	channels service.ChannelSource
}

// NewHandler creates a new handler. Events of turns started over HTTP go
// to the channels of channels, which may be nil.
func NewHandler(svc *service.Service, channels service.ChannelSource) *Handler {
	return &Handler{
		service:  svc,
		channels: channels,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/conversations", h.CreateConversation)
	e.GET("/v1/conversations", h.ListConversations)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)
	e.PUT("/v1/conversations/:conversation_id/settings", h.UpdateSettings)
	e.DELETE("/v1/conversations/:conversation_id", h.DeleteConversation)

	e.GET("/v1/conversations/:conversation_id/messages", h.ListMessages)
	e.POST("/v1/conversations/:conversation_id/messages", h.SendMessage)

	e.GET("/v1/conversations/:conversation_id/approvals", h.ListApprovals)
	e.GET("/v1/conversations/:conversation_id/notifications", h.ListNotifications)
	e.GET("/v1/approvals/:approval_id", h.GetApproval)
	e.POST("/v1/approvals/:approval_id/respond", h.RespondApproval)

	e.GET("/v1/plugins", h.ListPlugins)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (h *Handler) channel(conversationID string) service.Channel {
	if h.channels == nil {
		return service.NopChannel{}
	}
	return h.channels.Channel(conversationID)
}

// errorJSON maps service errors onto HTTP status codes.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMalformedInput):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
