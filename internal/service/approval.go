package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/tools"
)

// NotificationKindApproval marks notifications created for approval requests.
const NotificationKindApproval = "approval_request"

// ResolveResult reports what an approval response did.
type ResolveResult struct {
	// Applied is false when the response was ignored: an invalid value, an
	// unknown request, or one that was already resolved.
	Applied  bool
	Approval *domain.ApprovalRequest
	// Turn is the follow-up turn, when one ran.
	Turn *TurnResult
}

// requestApproval persists a pending request and its notification, then
// pushes the notification to the UI.
func (s *Service) requestApproval(ctx context.Context, conv *domain.Conversation, def *tools.Definition, call *domain.FunctionCall, ch Channel) (*domain.ApprovalRequest, error) {
	ap := &domain.ApprovalRequest{
		ConversationID: conv.ID,
		ToolName:       def.Name,
		ToolArguments:  call.Arguments,
		FunctionCallID: call.ID,
		Status:         domain.ApprovalStatusPending,
	}
	if err := s.store.CreateApproval(ctx, ap); err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	payload := map[string]any{"request_id": ap.ID}
	n := &domain.Notification{
		ConversationID: conv.ID,
		Kind:           NotificationKindApproval,
		Title:          "Approval required",
		Body:           approvalBody(def.Label(), call.Arguments),
		Actions: []domain.NotificationAction{
			{Label: "Approve", Action: "approve", Payload: payload},
			{Label: "Reject", Action: "reject", Payload: payload},
		},
		Status: domain.NotificationStatusActive,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	if err := s.store.SetApprovalNotification(ctx, ap.ID, n.ID); err != nil {
		return nil, fmt.Errorf("failed to link notification: %w", err)
	}
	ap.NotificationID = n.ID

	s.logger.Info("tool call awaiting approval", "conversation_id", conv.ID, "approval_id", ap.ID, "tool", def.Name)
	ev := domain.NewEvent(domain.EventNotification, conv.ID)
	ev.Notification = n
	send(ch, ev)
	return ap, nil
}

// approvalBody renders the notification text with a markdown table of the
// arguments.
func approvalBody(label string, args map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The assistant wants to use **%s**.", label)
	if len(args) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\n\n| Argument | Value |\n| --- | --- |")
	for _, k := range keys {
		v := strings.ReplaceAll(fmt.Sprint(args[k]), "|", "\\|")
		v = strings.ReplaceAll(v, "\n", " ")
		fmt.Fprintf(&b, "\n| %s | %s |", k, v)
	}
	return b.String()
}

// parseResponse maps an external response value to a terminal status.
func parseResponse(response string) (domain.ApprovalStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "approve", "approved", "yes":
		return domain.ApprovalStatusApproved, true
	case "reject", "rejected", "no":
		return domain.ApprovalStatusRejected, true
	}
	return "", false
}

// declinedOutput is the function output recorded for a rejected call.
func declinedOutput(tool string) string {
	return fmt.Sprintf("The user declined to run `%s`. The tool was not executed.", tool)
}

// unavailableOutput answers an approved call whose tool was removed or
// disabled in the meantime.
func unavailableOutput(tool string) string {
	return fmt.Sprintf("`%s` is no longer available. The tool was not executed.", tool)
}

// ResolveApproval applies an external approve or reject decision. Invalid
// responses and unknown or already resolved requests are logged and
// ignored. An approved call runs with approval bypassed; a rejected one
// records a function output saying the tool did not run.
func (s *Service) ResolveApproval(ctx context.Context, requestID, response string, ch Channel) (*ResolveResult, error) {
	status, ok := parseResponse(response)
	if !ok {
		s.logger.Warn("ignoring approval response", "approval_id", requestID, "response", response, "error", domain.ErrApprovalInvalid)
		return &ResolveResult{}, nil
	}

	ap, err := s.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if ap == nil {
		s.logger.Warn("ignoring response for unknown approval", "approval_id", requestID)
		return &ResolveResult{}, nil
	}

	unlock := s.locks.Lock(ap.ConversationID)
	defer unlock()

	applied, err := s.store.ResolveApproval(ctx, ap.ID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approval: %w", err)
	}
	if !applied {
		s.logger.Warn("ignoring response for resolved approval", "approval_id", ap.ID, "conversation_id", ap.ConversationID)
		return &ResolveResult{Approval: ap}, nil
	}
	ap.Status = status
	s.logger.Info("approval resolved", "approval_id", ap.ID, "conversation_id", ap.ConversationID, "status", status)

	if ap.NotificationID != "" {
		if err := s.store.SupersedeNotification(ctx, ap.NotificationID); err != nil {
			s.logger.Error("failed to supersede notification", "approval_id", ap.ID, "error", err)
		}
	}
	ev := domain.NewEvent(domain.EventStatus, ap.ConversationID)
	ev.Status = &domain.Status{
		Kind:           "approval_resolved",
		ApprovalID:     ap.ID,
		ApprovalStatus: status,
		NotificationID: ap.NotificationID,
	}
	send(ch, ev)

	conv, err := s.store.GetConversation(ctx, ap.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		s.logger.Warn("approval outlived its conversation", "approval_id", ap.ID, "conversation_id", ap.ConversationID)
		return &ResolveResult{Applied: true, Approval: ap}, nil
	}

	call := &domain.FunctionCall{ID: ap.FunctionCallID, Name: ap.ToolName, Arguments: ap.ToolArguments}
	var dr *dispatchResult
	_, registered := s.tools.Get(ap.ToolName)
	switch {
	case status == domain.ApprovalStatusApproved && (!registered || !conv.Settings.ToolEnabled(ap.ToolName)):
		s.logger.Warn("approved tool is no longer available", "approval_id", ap.ID, "tool", ap.ToolName)
		dr = &dispatchResult{Output: functionOutput(conv.ID, ap.ToolName, unavailableOutput(ap.ToolName), nil)}
	case status == domain.ApprovalStatusApproved:
		dr, err = s.dispatch(ctx, conv, call, true, ch)
		if err != nil {
			return nil, err
		}
	default:
		dr = &dispatchResult{Output: functionOutput(conv.ID, ap.ToolName, declinedOutput(ap.ToolName), nil)}
		if def, ok := s.tools.Get(ap.ToolName); ok {
			dr.FollowUp = def.Effective(conv.Settings.Tools[ap.ToolName]).FollowUpOnOutput
		}
	}

	turn := &TurnResult{ConversationID: conv.ID}
	next, err := s.settle(ctx, dr, turn, ch)
	if err != nil {
		return nil, err
	}
	if next != nil {
		turn, err = s.runLoop(ctx, conv, *next, turn, ch)
		if err != nil {
			return nil, err
		}
	}
	return &ResolveResult{Applied: true, Approval: ap, Turn: turn}, nil
}
