// Package snippets holds context providers that contribute text to the
// system block of each turn.
package snippets

import (
	"context"
	"fmt"
	"sync"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Input is what a snippet receives.
type Input struct {
	ConversationID string
	// Query is the text of the pending input.
	Query   string
	Options map[string]any
}

// Func produces snippet-role messages for a turn. Returning no messages
// contributes nothing.
type Func func(ctx context.Context, in Input) ([]domain.Message, error)

// Definition describes a registered snippet.
type Definition struct {
	Name        string
	DisplayName string
	Description string
	Run         Func
}

// Registry stores snippets keyed by name, in registration order.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates an empty snippet registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a snippet definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("snippet name is required")
	}
	if def.Run == nil {
		return fmt.Errorf("snippet %s has no run function", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("snippet already registered: %s", def.Name)
	}
	r.defs[def.Name] = &def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the named snippet.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns all snippets in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Enabled returns the snippets enabled in settings, in registration order.
func (r *Registry) Enabled(settings domain.ConversationSettings) []*Definition {
	var out []*Definition
	for _, def := range r.List() {
		if settings.SnippetEnabled(def.Name) {
			out = append(out, def)
		}
	}
	return out
}
