package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/neary-ai/neary-sub000/internal/adapter/llm"
	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Step is one scripted provider reply. Exactly one of Err or Response is
// used; Deltas are streamed before Response is returned.
type Step struct {
	Deltas   []string
	Response *llm.Response
	Err      error
}

// Reply is a step that streams text in the given fragments.
func Reply(fragments ...string) Step {
	content := ""
	for _, f := range fragments {
		content += f
	}
	return Step{Deltas: fragments, Response: &llm.Response{Content: content}}
}

// Call is a step that requests a tool.
func Call(name string, args map[string]any) Step {
	return Step{Response: &llm.Response{FunctionCall: &domain.FunctionCall{ID: "call_" + name, Name: name, Arguments: args}}}
}

// Fail is a step that returns err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ErrScriptExhausted is returned once every scripted step was consumed.
var ErrScriptExhausted = errors.New("scripted provider has no more steps")

// ScriptedProvider replays queued steps and records each request.
type ScriptedProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
	// Repeat, when set, is returned for every call after the script ends.
	Repeat *Step
}

var _ llm.Provider = (*ScriptedProvider)(nil)

// NewScriptedProvider creates a provider that replays steps in order.
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{steps: steps}
}

// Push appends steps to the script.
func (p *ScriptedProvider) Push(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Stream(ctx context.Context, req *llm.Request, onDelta llm.DeltaFunc) (*llm.Response, error) {
	p.mu.Lock()
	cp := *req
	cp.Chain = req.Chain.Clone()
	p.requests = append(p.requests, cp)
	var step Step
	switch {
	case len(p.steps) > 0:
		step = p.steps[0]
		p.steps = p.steps[1:]
	case p.Repeat != nil:
		step = *p.Repeat
	default:
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	p.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	for _, d := range step.Deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	resp := *step.Response
	return &resp, nil
}

// Requests returns every request received so far.
func (p *ScriptedProvider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Calls returns how many times Stream was invoked.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
