// Package policy decides whether a tool call runs, waits for approval, or
// is blocked.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Input is the document a policy is evaluated against.
type Input struct {
	ConversationID   string         `json:"conversation_id"`
	ToolName         string         `json:"tool_name"`
	Args             map[string]any `json:"args"`
	RequiresApproval bool           `json:"requires_approval"`
	// BypassApproval is set when the user already approved this call.
	BypassApproval bool `json:"bypass_approval"`
}

// asMap converts the input to the plain JSON document rego expects.
func (in Input) asMap() map[string]any {
	args := in.Args
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"conversation_id":   in.ConversationID,
		"tool_name":         in.ToolName,
		"args":              args,
		"requires_approval": in.RequiresApproval,
		"bypass_approval":   in.BypassApproval,
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the tool policy and returns the decision with an
// optional reason.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input.asMap()))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return fallback(input), "no decision", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return parseDecision(val, input), "", nil
	case map[string]interface{}:
		d, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		return parseDecision(d, input), reason, nil
	}
	return fallback(input), "unexpected return type", nil
}

func parseDecision(s string, input Input) Decision {
	switch d := Decision(s); d {
	case DecisionAllow, DecisionRequireApproval, DecisionBlock:
		return d
	}
	return fallback(input)
}

// fallback applies the approval flags without a policy.
func fallback(input Input) Decision {
	if input.RequiresApproval && !input.BypassApproval {
		return DecisionRequireApproval
	}
	return DecisionAllow
}

// DefaultPolicy gates tools flagged for approval until the user approves.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "require_approval" {
	input.requires_approval
	not input.bypass_approval
}
`
