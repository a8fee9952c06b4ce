package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageIsEmpty(t *testing.T) {
	assert.True(t, Message{Content: "  \n"}.IsEmpty())
	assert.False(t, Message{Content: "hi"}.IsEmpty())
	assert.False(t, Message{FunctionCall: &FunctionCall{Name: "make_a_note"}}.IsEmpty())
}

func TestChainCloneIsIndependent(t *testing.T) {
	chain := Chain{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, FunctionCall: &FunctionCall{Name: "make_a_note", Arguments: map[string]any{"text": "a"}}},
	}
	clone := chain.Clone()
	clone[0].Content = "changed"
	clone[1].FunctionCall.Arguments["text"] = "b"

	assert.Equal(t, "hello", chain[0].Content)
	assert.Equal(t, "a", chain[1].FunctionCall.Arguments["text"])
	assert.Equal(t, RoleAssistant, clone.Last().Role)
	assert.Nil(t, Chain{}.Last())
}

func TestSettingsEnabled(t *testing.T) {
	s := ConversationSettings{
		Tools:    map[string]PluginSettings{"make_a_note": {Enabled: true}, "off": {}},
		Snippets: map[string]PluginSettings{"notes": {Enabled: true}},
	}
	assert.True(t, s.ToolEnabled("make_a_note"))
	assert.False(t, s.ToolEnabled("off"))
	assert.False(t, s.ToolEnabled("missing"))
	assert.True(t, s.SnippetEnabled("notes"))
}

func TestIsTransient(t *testing.T) {
	err := fmt.Errorf("invoke: %w", &TransientProviderError{Provider: "openai", Err: errors.New("429")})
	assert.True(t, IsTransient(err))
	assert.False(t, IsTransient(&ConfigurationError{Field: "provider.type", Reason: "unknown"}))

	toolErr := &ToolExecutionError{Tool: "make_a_note", Err: ErrMalformedInput}
	assert.ErrorIs(t, toolErr, ErrMalformedInput)
}
