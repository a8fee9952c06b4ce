package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// CreateConversationRequest overlays optional fields on the default settings.
type CreateConversationRequest struct {
	Title         string                           `json:"title"`
	SystemMessage *string                          `json:"system_message,omitempty"`
	TokenBudget   *int                             `json:"token_budget,omitempty"`
	Model         *domain.ModelParameters          `json:"model,omitempty"`
	Tools         map[string]domain.PluginSettings `json:"tools,omitempty"`
	Snippets      map[string]domain.PluginSettings `json:"snippets,omitempty"`
}

func (r *CreateConversationRequest) apply(settings *domain.ConversationSettings) {
	if r.SystemMessage != nil {
		settings.SystemMessage = *r.SystemMessage
	}
	if r.TokenBudget != nil {
		settings.TokenBudget = *r.TokenBudget
	}
	if r.Model != nil {
		if r.Model.Model != "" {
			settings.Model.Model = r.Model.Model
		}
		if r.Model.Temperature != nil {
			settings.Model.Temperature = r.Model.Temperature
		}
		if r.Model.MaxTokens > 0 {
			settings.Model.MaxTokens = r.Model.MaxTokens
		}
	}
	for name, ps := range r.Tools {
		settings.Tools[name] = ps
	}
	for name, ps := range r.Snippets {
		settings.Snippets[name] = ps
	}
}

// CreateConversation creates a conversation.
// POST /v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	settings := h.service.DefaultSettings()
	req.apply(&settings)

	conv, err := h.service.CreateConversation(c.Request().Context(), req.Title, &settings)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// ListConversations lists all conversations.
// GET /v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.service.ListConversations(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
}

// GetConversation retrieves a conversation.
// GET /v1/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	conv, err := h.service.GetConversation(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// UpdateSettings replaces the settings of a conversation.
// PUT /v1/conversations/:conversation_id/settings
func (h *Handler) UpdateSettings(c echo.Context) error {
	var settings domain.ConversationSettings
	if err := c.Bind(&settings); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	id := c.Param("conversation_id")
	if err := h.service.UpdateSettings(c.Request().Context(), id, settings); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// DeleteConversation deletes a conversation with its history.
// DELETE /v1/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.service.DeleteConversation(c.Request().Context(), c.Param("conversation_id")); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type pluginInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// ListPlugins lists the registered tools and snippets.
// GET /v1/plugins
func (h *Handler) ListPlugins(c echo.Context) error {
	plugins := []pluginInfo{}
	for _, def := range h.service.Tools().List() {
		plugins = append(plugins, pluginInfo{Name: def.Name, DisplayName: def.Label(), Description: def.Description, Kind: "tool"})
	}
	for _, def := range h.service.Snippets().List() {
		plugins = append(plugins, pluginInfo{Name: def.Name, DisplayName: def.DisplayName, Description: def.Description, Kind: "snippet"})
	}
	return c.JSON(http.StatusOK, map[string]any{"plugins": plugins})
}
