package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

const defaultMaxFollowUps = 5

// TurnResult summarizes one run of the conversation loop.
type TurnResult struct {
	ConversationID string `json:"conversation_id"`
	// Messages are the messages persisted by the run, in order.
	Messages  []domain.Message `json:"messages"`
	FollowUps int              `json:"follow_ups"`
	// Suspended is set when a tool call awaits approval.
	Suspended bool                    `json:"suspended"`
	Approval  *domain.ApprovalRequest `json:"approval,omitempty"`
	// Failed is set when the provider call failed.
	Failed bool `json:"failed"`
}

// Reply returns the last assistant message of the run, or nil.
func (r *TurnResult) Reply() *domain.Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == domain.RoleAssistant {
			return &r.Messages[i]
		}
	}
	return nil
}

// HandleUserMessage runs a turn for a new user message.
func (s *Service) HandleUserMessage(ctx context.Context, conversationID, content string, ch Channel) (*TurnResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty message: %w", domain.ErrMalformedInput)
	}
	return s.RunTurn(ctx, conversationID, domain.Message{
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
	}, ch)
}

// RunTurn runs the conversation loop with pending as input, a user message
// or a function output. Turns on the same conversation are serialized.
func (s *Service) RunTurn(ctx context.Context, conversationID string, pending domain.Message, ch Channel) (*TurnResult, error) {
	if pending.Role != domain.RoleUser && pending.Role != domain.RoleFunction {
		return nil, fmt.Errorf("pending input must be a user message or function output, got %q: %w", pending.Role, domain.ErrMalformedInput)
	}
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	pending.ID = ""
	pending.ConversationID = conv.ID
	return s.runLoop(ctx, conv, pending, &TurnResult{ConversationID: conv.ID}, ch)
}

// runLoop builds context, invokes the provider, persists the turn and
// dispatches any tool call, repeating while a tool asks for a follow-up.
// The caller holds the conversation lock.
func (s *Service) runLoop(ctx context.Context, conv *domain.Conversation, pending domain.Message, turn *TurnResult, ch Channel) (*TurnResult, error) {
	for {
		chain, err := s.buildChain(ctx, conv, pending)
		if err != nil {
			return turn, err
		}
		s.countTokens(&pending)

		reply, err := s.invoke(ctx, conv, chain, s.tools.Enabled(conv.Settings), ch)
		if err != nil {
			// the input is kept even though the model never answered
			if err := s.store.SaveTurn(ctx, &pending, nil); err != nil {
				return turn, fmt.Errorf("failed to save pending input: %w", err)
			}
			turn.Messages = append(turn.Messages, pending)
			turn.Failed = true
			return turn, nil
		}
		s.countTokens(reply)
		if err := s.store.SaveTurn(ctx, &pending, reply); err != nil {
			return turn, fmt.Errorf("failed to save turn: %w", err)
		}
		turn.Messages = append(turn.Messages, pending, *reply)
		sendMessage(ch, domain.EventAssistantFinal, *reply)

		if reply.FunctionCall == nil {
			return turn, nil
		}
		dr, err := s.dispatch(ctx, conv, reply.FunctionCall, false, ch)
		if err != nil {
			return turn, err
		}
		next, err := s.settle(ctx, dr, turn, ch)
		if err != nil || next == nil {
			return turn, err
		}
		pending = *next
	}
}

// settle records a dispatch outcome on turn. It returns the next pending
// input when a follow-up is due; otherwise any output is persisted as is.
func (s *Service) settle(ctx context.Context, dr *dispatchResult, turn *TurnResult, ch Channel) (*domain.Message, error) {
	if dr.Approval != nil {
		turn.Suspended = true
		turn.Approval = dr.Approval
		return nil, nil
	}
	if dr.Output == nil {
		return nil, nil
	}
	if dr.FollowUp {
		if turn.FollowUps < s.maxFollowUps() {
			turn.FollowUps++
			return dr.Output, nil
		}
		s.logger.Warn("follow-up limit reached", "conversation_id", turn.ConversationID, "tool", dr.Output.Name)
	}
	s.countTokens(dr.Output)
	if err := s.store.CreateMessage(ctx, dr.Output); err != nil {
		return nil, fmt.Errorf("failed to save function output: %w", err)
	}
	turn.Messages = append(turn.Messages, *dr.Output)
	sendMessage(ch, domain.EventAssistantFinal, *dr.Output)
	return nil, nil
}

func (s *Service) maxFollowUps() int {
	if s.config.MaxFollowUps > 0 {
		return s.config.MaxFollowUps
	}
	return defaultMaxFollowUps
}

// DefaultSettings returns the configured defaults with every registered
// tool and snippet enabled.
func (s *Service) DefaultSettings() domain.ConversationSettings {
	settings := s.config.DefaultSettings()
	settings.Tools = map[string]domain.PluginSettings{}
	for _, def := range s.tools.List() {
		settings.Tools[def.Name] = domain.PluginSettings{Enabled: true}
	}
	settings.Snippets = map[string]domain.PluginSettings{}
	for _, def := range s.snippets.List() {
		settings.Snippets[def.Name] = domain.PluginSettings{Enabled: true}
	}
	return settings
}

// CreateConversation creates a conversation. Nil settings get the defaults.
func (s *Service) CreateConversation(ctx context.Context, title string, settings *domain.ConversationSettings) (*domain.Conversation, error) {
	conv := &domain.Conversation{Title: title}
	if settings != nil {
		conv.Settings = *settings
	} else {
		conv.Settings = s.DefaultSettings()
	}
	if conv.Settings.TokenBudget < 0 {
		return nil, fmt.Errorf("token budget must not be negative: %w", domain.ErrMalformedInput)
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns the conversation or an ErrNotFound error.
func (s *Service) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// UpdateSettings replaces the settings of a conversation.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings domain.ConversationSettings) error {
	if settings.TokenBudget < 0 {
		return fmt.Errorf("token budget must not be negative: %w", domain.ErrMalformedInput)
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.store.UpdateConversationSettings(ctx, id, settings); err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages, most recent first.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	messages, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// GetApproval returns the approval request or an ErrNotFound error.
func (s *Service) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	ap, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	if ap == nil {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	return ap, nil
}

func (s *Service) ListApprovals(ctx context.Context, conversationID string, status domain.ApprovalStatus) ([]domain.ApprovalRequest, error) {
	approvals, err := s.store.ListApprovals(ctx, conversationID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return approvals, nil
}

func (s *Service) ListNotifications(ctx context.Context, conversationID string, activeOnly bool) ([]domain.Notification, error) {
	notifications, err := s.store.ListNotifications(ctx, conversationID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}
