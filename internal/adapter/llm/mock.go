package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// MockProvider is an offline provider for development. It echoes the last
// user message and calls a tool when the message reads
// "/call <name> <json arguments>".
type MockProvider struct{}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name returns the provider name.
func (m *MockProvider) Name() string { return "mock" }

// Stream simulates a streamed reply in chunks of ten characters.
func (m *MockProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	last := req.Chain.Last()
	var call *domain.FunctionCall
	var reply string
	switch {
	case last == nil:
		reply = "[MOCK] This is a mock response."
	case last.Role == domain.RoleFunction:
		reply = fmt.Sprintf("[MOCK] Function %s returned: %s", last.Name, truncate(last.Content, 100))
	default:
		call = parseMockCall(last.Content)
		if call == nil {
			reply = fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(last.Content, 100))
		}
	}

	for _, chunk := range splitIntoChunks(reply, 10) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		emit(onDelta, chunk)
	}

	prompt := 0
	for _, msg := range req.Chain {
		prompt += len(msg.Content) / 4
	}
	return &Response{
		Content:      reply,
		FunctionCall: call,
		Usage:        domain.Usage{PromptTokens: prompt, CompletionTokens: len(reply) / 4},
		Formatted:    formatted(req.Chain),
	}, nil
}

func parseMockCall(content string) *domain.FunctionCall {
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), "/call ")
	if !ok {
		return nil
	}
	name, rawArgs, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if name == "" {
		return nil
	}
	args := map[string]any{}
	if rawArgs = strings.TrimSpace(rawArgs); rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			args = map[string]any{"text": rawArgs}
		}
	}
	return &domain.FunctionCall{Name: name, Arguments: args}
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
