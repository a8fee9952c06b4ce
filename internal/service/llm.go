package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/neary-ai/neary-sub000/internal/adapter/llm"
	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/tools"
)

type replyMetadata struct {
	Provider string          `json:"provider"`
	Chain    json.RawMessage `json:"chain,omitempty"`
	Usage    domain.Usage    `json:"usage"`
	Attempts int             `json:"attempts"`
}

// invoke streams one assistant reply for chain, retrying transient
// failures. On failure the user gets one error alert and no message.
func (s *Service) invoke(ctx context.Context, conv *domain.Conversation, chain domain.Chain, defs []*tools.Definition, ch Channel) (*domain.Message, error) {
	req := &llm.Request{
		Chain:  chain.Clone(),
		Tools:  tools.Schemas(defs),
		Params: conv.Settings.Model,
	}

	var resp *llm.Response
	attempts := 0
	err := s.retry.Do(ctx, func(attempt int) error {
		attempts = attempt
		var acc strings.Builder
		r, err := s.provider.Stream(ctx, req, func(delta string) {
			acc.WriteString(delta)
			sendMessage(ch, domain.EventAssistantDelta, domain.Message{
				ConversationID: conv.ID,
				Role:           domain.RoleAssistant,
				Content:        acc.String(),
			})
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("provider call failed, retrying",
			"conversation_id", conv.ID, "provider", s.provider.Name(), "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		s.logger.Error("provider call failed",
			"conversation_id", conv.ID, "provider", s.provider.Name(), "attempt", attempts, "error", err)
		sendError(ch, conv.ID, providerErrorMessage(err))
		return nil, err
	}

	meta, _ := json.Marshal(replyMetadata{
		Provider: s.provider.Name(),
		Chain:    resp.Formatted,
		Usage:    resp.Usage,
		Attempts: attempts,
	})
	reply := &domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        resp.Content,
		FunctionCall:   resp.FunctionCall,
		Metadata:       meta,
	}
	if reply.FunctionCall != nil && reply.FunctionCall.Arguments == nil {
		reply.FunctionCall.Arguments = map[string]any{}
	}
	return reply, nil
}

func providerErrorMessage(err error) string {
	var cfgErr *domain.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return "The model provider is misconfigured: " + cfgErr.Reason
	case domain.IsTransient(err):
		return "The model is not responding right now. Please try again in a moment."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The model request was cancelled."
	}
	return "The model request failed: " + err.Error()
}
