package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/service"
)

// ApprovalResponseRequest is the external decision on an approval request.
type ApprovalResponseRequest struct {
	Response string `json:"response"`
}

// RespondApproval applies an approve or reject decision. Ignored responses
// still succeed with applied=false.
// POST /v1/approvals/:approval_id/respond
func (h *Handler) RespondApproval(c echo.Context) error {
	var req ApprovalResponseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	approvalID := c.Param("approval_id")

	ctx := context.WithoutCancel(c.Request().Context())
	var ch service.Channel = service.NopChannel{}
	if ap, err := h.service.GetApproval(ctx, approvalID); err == nil {
		ch = h.channel(ap.ConversationID)
	}

	result, err := h.service.ResolveApproval(ctx, approvalID, req.Response, ch)
	if err != nil {
		return errorJSON(c, err)
	}
	resp := map[string]any{
		"ok":      true,
		"applied": result.Applied,
	}
	if result.Approval != nil {
		resp["status"] = result.Approval.Status
	}
	if result.Turn != nil {
		resp["turn"] = result.Turn
	}
	return c.JSON(http.StatusOK, resp)
}

// GetApproval retrieves an approval request.
// GET /v1/approvals/:approval_id
func (h *Handler) GetApproval(c echo.Context) error {
	ap, err := h.service.GetApproval(c.Request().Context(), c.Param("approval_id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, ap)
}

// ListApprovals lists a conversation's approval requests.
// GET /v1/conversations/:conversation_id/approvals?status=pending
func (h *Handler) ListApprovals(c echo.Context) error {
	status := domain.ApprovalStatus(c.QueryParam("status"))
	switch status {
	case "", domain.ApprovalStatusPending, domain.ApprovalStatusApproved, domain.ApprovalStatusRejected:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
	}
	approvals, err := h.service.ListApprovals(c.Request().Context(), c.Param("conversation_id"), status)
	if err != nil {
		return errorJSON(c, err)
	}
	if approvals == nil {
		approvals = []domain.ApprovalRequest{}
	}
	return c.JSON(http.StatusOK, map[string]any{"approvals": approvals})
}

// ListNotifications lists a conversation's active notifications, or all
// of them with all=true.
// GET /v1/conversations/:conversation_id/notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	activeOnly := c.QueryParam("all") != "true"
	notifications, err := h.service.ListNotifications(c.Request().Context(), c.Param("conversation_id"), activeOnly)
	if err != nil {
		return errorJSON(c, err)
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": notifications})
}
