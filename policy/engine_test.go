package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input Input
		want  Decision
	}{
		{"plain tool", Input{ToolName: "get_current_time"}, DecisionAllow},
		{"gated tool", Input{ToolName: "make_a_note", RequiresApproval: true}, DecisionRequireApproval},
		{"approved call", Input{ToolName: "make_a_note", RequiresApproval: true, BypassApproval: true}, DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := engine.Evaluate(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCustomPolicyBlocks(t *testing.T) {
	ctx := context.Background()
	custom := `
package tool_policy

default decision = "allow"

decision = "block" {
	input.tool_name == "search_documents"
	input.args.query == "secrets"
}
`
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	engine, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)

	got, _, err := engine.Evaluate(ctx, Input{ToolName: "search_documents", Args: map[string]any{"query": "secrets"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, got)

	got, _, err = engine.Evaluate(ctx, Input{ToolName: "search_documents", Args: map[string]any{"query": "lisbon"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, got)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package tool_policy\n\ndecision = {")
	assert.Error(t, err)
}

func TestFallbackWithoutDecision(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, "package tool_policy\n\nother = 1\n")
	require.NoError(t, err)

	got, reason, err := engine.Evaluate(ctx, Input{RequiresApproval: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireApproval, got)
	assert.Equal(t, "no decision", reason)
}
