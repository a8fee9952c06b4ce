// Package tools holds the registry of model-callable tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Settings are the approval and follow-up flags of a tool.
type Settings struct {
	RequiresApproval bool `json:"requires_approval"`
	FollowUpOnOutput bool `json:"follow_up_on_output"`
}

// Input is what an executor receives.
type Input struct {
	ConversationID string
	Arguments      map[string]any
	Options        map[string]any
}

// Output is what an executor returns.
type Output struct {
	Content string
	Data    json.RawMessage
	Files   []domain.File
	Command *domain.Command
}

// ExecutorFunc defines a server-side tool executor.
type ExecutorFunc func(ctx context.Context, in Input) (*Output, error)

// Definition describes a registered tool.
type Definition struct {
	Name        string
	DisplayName string
	Description string
	// Schema is the function schema sent to the model.
	Schema   mcp.Tool
	Defaults Settings
	Execute  ExecutorFunc
}

// Effective overlays conversation overrides on the tool defaults.
func (d *Definition) Effective(ps domain.PluginSettings) Settings {
	s := d.Defaults
	if ps.RequiresApproval != nil {
		s.RequiresApproval = *ps.RequiresApproval
	}
	if ps.FollowUpOnOutput != nil {
		s.FollowUpOnOutput = *ps.FollowUpOnOutput
	}
	return s
}

// Label returns the display name, falling back to the tool name.
func (d *Definition) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Registry stores tool definitions keyed by name, in registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a tool definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("executor is required")
	}
	if def.Schema.Name == "" {
		def.Schema = mcp.NewTool(def.Name, mcp.WithDescription(def.Description))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.defs[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister adds a tool definition or panics.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Enabled returns the tools enabled in settings, in registration order.
func (r *Registry) Enabled(settings domain.ConversationSettings) []*Definition {
	var out []*Definition
	for _, def := range r.List() {
		if settings.ToolEnabled(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

// Schemas returns the model-facing schemas of defs.
func Schemas(defs []*Definition) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Schema)
	}
	return out
}

// Execute runs the named tool. A panicking executor is reported as a
// ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, in Input) (out *Output, err error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("no executor registered for %s", name)
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = &domain.ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	out, err = def.Execute(ctx, in)
	if err != nil {
		return nil, &domain.ToolExecutionError{Tool: name, Err: err}
	}
	if out == nil {
		out = &Output{}
	}
	return out, nil
}
