package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// FunctionCall is a structured request from the model to run a tool.
type FunctionCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is the atomic unit of conversation history.
type Message struct {
	// ID is empty until the message is persisted.
	ID             string          `json:"id,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	Data           json.RawMessage `json:"data,omitempty"`
	FunctionCall   *FunctionCall   `json:"function_call,omitempty"`
	// Name is the tool name for function-role outputs.
	Name       string          `json:"name,omitempty"`
	TokenCount int             `json:"token_count,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IsEmpty reports whether the message carries neither text nor a function call.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.FunctionCall == nil
}

// Persisted reports whether the message has a store-assigned identifier.
func (m Message) Persisted() bool {
	return m.ID != ""
}

// Chain is an ordered sequence of messages sent to a provider.
type Chain []Message

// Clone returns a copy of the chain that shares no slice backing with c.
func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	copy(out, c)
	for i := range out {
		if fc := out[i].FunctionCall; fc != nil {
			cp := *fc
			cp.Arguments = make(map[string]any, len(fc.Arguments))
			for k, v := range fc.Arguments {
				cp.Arguments[k] = v
			}
			out[i].FunctionCall = &cp
		}
	}
	return out
}

// Last returns the final message of the chain, or nil when empty.
func (c Chain) Last() *Message {
	if len(c) == 0 {
		return nil
	}
	return &c[len(c)-1]
}

// ModelParameters selects and tunes the provider model for a conversation.
type ModelParameters struct {
	Model       string   `json:"model,omitempty" yaml:"model"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// PluginSettings overrides the registry defaults of a tool or snippet for
// one conversation. Nil pointers fall back to the registered default.
type PluginSettings struct {
	Enabled          bool           `json:"enabled"`
	RequiresApproval *bool          `json:"requires_approval,omitempty"`
	FollowUpOnOutput *bool          `json:"follow_up_on_output,omitempty"`
	Options          map[string]any `json:"options,omitempty"`
}

// ConversationSettings holds the per-conversation configuration.
type ConversationSettings struct {
	SystemMessage string                    `json:"system_message"`
	TokenBudget   int                       `json:"token_budget"`
	Model         ModelParameters           `json:"model"`
	Tools         map[string]PluginSettings `json:"tools,omitempty"`
	Snippets      map[string]PluginSettings `json:"snippets,omitempty"`
}

// ToolEnabled reports whether the named tool is enabled.
func (s ConversationSettings) ToolEnabled(name string) bool {
	ps, ok := s.Tools[name]
	return ok && ps.Enabled
}

// SnippetEnabled reports whether the named snippet is enabled.
func (s ConversationSettings) SnippetEnabled(name string) bool {
	ps, ok := s.Snippets[name]
	return ok && ps.Enabled
}

// Conversation represents a persisted chat conversation.
type Conversation struct {
	ID        string               `json:"id"`
	Title     string               `json:"title"`
	Settings  ConversationSettings `json:"settings"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ApprovalRequest is a persisted continuation for a tool call that awaits a
// user decision.
type ApprovalRequest struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ToolName       string         `json:"tool_name"`
	ToolArguments  map[string]any `json:"tool_arguments"`
	FunctionCallID string         `json:"function_call_id,omitempty"`
	NotificationID string         `json:"notification_id,omitempty"`
	Status         ApprovalStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// NotificationAction is a button attached to a notification.
type NotificationAction struct {
	Label   string         `json:"label"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notification is a persisted message to the user that may carry actions.
type Notification struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	Kind           string               `json:"kind"`
	Title          string               `json:"title"`
	Body           string               `json:"body"`
	Actions        []NotificationAction `json:"actions,omitempty"`
	Status         NotificationStatus   `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Note is a user note saved by the make_a_note tool.
type Note struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Usage reports token consumption of one provider invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
