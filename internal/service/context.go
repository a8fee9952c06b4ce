package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/neary-ai/neary-sub000/internal/adapter/llm"
	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/snippets"
	"github.com/neary-ai/neary-sub000/internal/tokenizer"
)

// ContextBuilder assembles the chain of one turn under a token budget.
type ContextBuilder struct {
	Counter tokenizer.Counter
	// Budget bounds the tokens of the whole chain. Mandatory messages are
	// always included, so only history is ever cut.
	Budget int
}

// Build returns [system, history..., pending]. history is most recent
// first; the accepted part is a contiguous prefix of it, restored to
// chronological order in the chain. Snippet contributions are folded into
// the single system message.
func (b ContextBuilder) Build(system string, contributions []domain.Message, history []domain.Message, pending domain.Message) domain.Chain {
	parts := []string{}
	if s := strings.TrimSpace(system); s != "" {
		parts = append(parts, s)
	}
	for _, c := range contributions {
		if s := strings.TrimSpace(c.Content); s != "" {
			parts = append(parts, s)
		}
	}
	sys := domain.Message{
		ConversationID: pending.ConversationID,
		Role:           domain.RoleSystem,
		Content:        strings.Join(parts, "\n\n"),
	}

	used := b.count(sys) + b.count(pending)
	var accepted []domain.Message
	for _, m := range history {
		if m.IsEmpty() {
			continue
		}
		t := b.count(m)
		if used+t > b.Budget {
			break
		}
		used += t
		accepted = append(accepted, m)
	}

	chain := make(domain.Chain, 0, len(accepted)+2)
	chain = append(chain, sys)
	for i := len(accepted) - 1; i >= 0; i-- {
		chain = append(chain, accepted[i])
	}
	return append(chain, pending)
}

func (b ContextBuilder) count(m domain.Message) int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return b.Counter.Count(llm.MessageText(m))
}

// buildChain loads history and snippet contributions for conv and
// assembles the chain for pending.
func (s *Service) buildChain(ctx context.Context, conv *domain.Conversation, pending domain.Message) (domain.Chain, error) {
	history, err := s.store.ListMessages(ctx, conv.ID, s.config.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	system := conv.Settings.SystemMessage
	if system == "" {
		system = s.config.SystemMessage
	}

	builder := ContextBuilder{Counter: s.tokens, Budget: conv.Settings.TokenBudget}
	return builder.Build(system, s.runSnippets(ctx, conv, pending), history, pending), nil
}

// runSnippets runs the enabled snippets in registration order. A failing
// snippet is logged and contributes nothing.
func (s *Service) runSnippets(ctx context.Context, conv *domain.Conversation, pending domain.Message) []domain.Message {
	var out []domain.Message
	for _, def := range s.snippets.Enabled(conv.Settings) {
		msgs, err := def.Run(ctx, snippets.Input{
			ConversationID: conv.ID,
			Query:          pending.Content,
			Options:        conv.Settings.Snippets[def.Name].Options,
		})
		if err != nil {
			s.logger.Warn("snippet failed", "conversation_id", conv.ID, "snippet", def.Name, "error", err)
			continue
		}
		out = append(out, msgs...)
	}
	return out
}

// countTokens fills in the token count of m for persistence.
func (s *Service) countTokens(m *domain.Message) {
	if m.TokenCount == 0 {
		m.TokenCount = s.tokens.Count(llm.MessageText(*m))
	}
}
