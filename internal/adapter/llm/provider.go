// Package llm adapts LLM backends to a single streaming Provider interface.
package llm

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Request is one provider invocation.
type Request struct {
	// Chain is the context window. Providers must not modify it.
	Chain  domain.Chain
	Tools  []mcp.Tool
	Params domain.ModelParameters
}

// DeltaFunc receives each incremental text fragment of a streamed reply.
type DeltaFunc func(text string)

// Response is the complete reply of one invocation.
type Response struct {
	Content      string
	FunctionCall *domain.FunctionCall
	Usage        domain.Usage
	// Formatted is the backend-specific message list that was sent.
	Formatted json.RawMessage
}

// Provider streams a completion for a chain.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error)
}

func emit(onDelta DeltaFunc, text string) {
	if onDelta != nil && text != "" {
		onDelta(text)
	}
}

func formatted(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
