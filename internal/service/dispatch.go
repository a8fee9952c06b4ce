package service

import (
	"context"
	"fmt"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/tools"
	"github.com/neary-ai/neary-sub000/policy"
)

// dispatchResult is the outcome of one tool call.
type dispatchResult struct {
	// Output is the function-output message, not yet persisted.
	Output *domain.Message
	// FollowUp requests a new turn with Output as pending input.
	FollowUp bool
	// Approval is set when the call was suspended pending a user decision.
	Approval *domain.ApprovalRequest
}

// dispatch resolves call against the conversation's enabled tools and either
// executes it, suspends it for approval, or blocks it. bypass marks a call
// the user already approved.
func (s *Service) dispatch(ctx context.Context, conv *domain.Conversation, call *domain.FunctionCall, bypass bool, ch Channel) (*dispatchResult, error) {
	def, ok := s.tools.Get(call.Name)
	if !ok || !conv.Settings.ToolEnabled(call.Name) {
		s.logger.Info("model requested an unavailable tool", "conversation_id", conv.ID, "tool", call.Name)
		return &dispatchResult{}, nil
	}
	settings := def.Effective(conv.Settings.Tools[def.Name])

	decision, reason := s.decide(ctx, policy.Input{
		ConversationID:   conv.ID,
		ToolName:         def.Name,
		Args:             call.Arguments,
		RequiresApproval: settings.RequiresApproval,
		BypassApproval:   bypass,
	})
	if bypass && decision == policy.DecisionRequireApproval {
		// an approved call never asks again, whatever the policy says
		decision = policy.DecisionAllow
	}
	switch decision {
	case policy.DecisionBlock:
		s.logger.Info("tool call blocked by policy", "conversation_id", conv.ID, "tool", def.Name, "reason", reason)
		msg := fmt.Sprintf("%s is not allowed to run.", def.Label())
		if reason != "" {
			msg = fmt.Sprintf("%s is not allowed to run: %s", def.Label(), reason)
		}
		sendError(ch, conv.ID, msg)
		return &dispatchResult{}, nil
	case policy.DecisionRequireApproval:
		ap, err := s.requestApproval(ctx, conv, def, call, ch)
		if err != nil {
			return nil, err
		}
		return &dispatchResult{Approval: ap}, nil
	}
	return s.execute(ctx, conv, def, call, settings, ch), nil
}

// decide evaluates the policy. An evaluation failure blocks the call.
func (s *Service) decide(ctx context.Context, in policy.Input) (policy.Decision, string) {
	if s.policyEngine == nil {
		if in.RequiresApproval && !in.BypassApproval {
			return policy.DecisionRequireApproval, ""
		}
		return policy.DecisionAllow, ""
	}
	decision, reason, err := s.policyEngine.Evaluate(ctx, in)
	if err != nil {
		s.logger.Error("policy evaluation failed", "conversation_id", in.ConversationID, "tool", in.ToolName, "error", err)
		return policy.DecisionBlock, "policy evaluation failed"
	}
	return decision, reason
}

// execute runs def inside the registry's error boundary, reporting start,
// success and error through one correlated alert.
func (s *Service) execute(ctx context.Context, conv *domain.Conversation, def *tools.Definition, call *domain.FunctionCall, settings tools.Settings, ch Channel) *dispatchResult {
	alert := domain.Alert{
		ID:      newAlertID(),
		State:   domain.AlertStateStart,
		Variant: domain.AlertVariantInfo,
		Message: fmt.Sprintf("Running %s...", def.Label()),
	}
	sendAlert(ch, conv.ID, alert)

	out, err := s.tools.Execute(ctx, def.Name, tools.Input{
		ConversationID: conv.ID,
		Arguments:      call.Arguments,
		Options:        conv.Settings.Tools[def.Name].Options,
	})
	if err != nil {
		s.logger.Error("tool execution failed", "conversation_id", conv.ID, "tool", def.Name, "error", err)
		alert.State = domain.AlertStateError
		alert.Variant = domain.AlertVariantError
		alert.Message = fmt.Sprintf("%s failed: %v", def.Label(), err)
		sendAlert(ch, conv.ID, alert)
		return &dispatchResult{}
	}

	alert.State = domain.AlertStateSuccess
	alert.Variant = domain.AlertVariantSuccess
	alert.Message = fmt.Sprintf("%s finished.", def.Label())
	sendAlert(ch, conv.ID, alert)

	if out.Command != nil {
		ev := domain.NewEvent(domain.EventCommand, conv.ID)
		ev.Command = out.Command
		send(ch, ev)
	}
	for i := range out.Files {
		ev := domain.NewEvent(domain.EventFile, conv.ID)
		ev.File = &out.Files[i]
		send(ch, ev)
	}

	return &dispatchResult{
		Output:   functionOutput(conv.ID, def.Name, out.Content, out.Data),
		FollowUp: settings.FollowUpOnOutput,
	}
}

func functionOutput(conversationID, name, content string, data []byte) *domain.Message {
	return &domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleFunction,
		Name:           name,
		Content:        content,
		Data:           data,
	}
}
