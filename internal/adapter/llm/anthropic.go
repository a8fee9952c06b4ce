package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider streams messages from the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a provider. An empty baseURL uses the SDK default.
func NewAnthropicProvider(baseURL, apiKey, model string, httpClient *http.Client) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: model}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string { return "anthropic" }

func toAnthropicMessages(chain domain.Chain) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	system, rest := SplitSystem(chain)
	var systemBlocks []anthropic.TextBlockParam
	if system != "" {
		systemBlocks = []anthropic.TextBlockParam{{Text: system}}
	}
	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		block := anthropic.NewTextBlock(MessageText(m))
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	return systemBlocks, msgs
}

func toAnthropicTools(req *Request) []anthropic.ToolUnionParam {
	if len(req.Tools) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(req.Tools))
	for i, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.InputSchema.Properties}
		if len(t.InputSchema.Required) > 0 {
			schema.Required = t.InputSchema.Required
		}
		result[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			result[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return result
}

// Stream sends the chain and streams the reply.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	system, messages := toAnthropicMessages(req.Chain)
	model := req.Params.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.Params.MaxTokens > 0 {
		maxTokens = int64(req.Params.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := toAnthropicTools(req); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Params.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Params.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()
	msg := anthropic.Message{}

	var content strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			// Out-of-order events mean the stream lost frames on the way.
			return nil, Classify(p.Name(), fmt.Errorf("error accumulating message: %w: %w", io.ErrUnexpectedEOF, err))
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				content.WriteString(d.Text)
				emit(onDelta, d.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, Classify(p.Name(), fmt.Errorf("anthropic streaming error: %w", err))
	}

	var call *domain.FunctionCall
	for _, block := range msg.Content {
		if toolUse, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			args := map[string]any{}
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &args); err != nil {
					continue
				}
			}
			call = &domain.FunctionCall{ID: toolUse.ID, Name: toolUse.Name, Arguments: args}
			break
		}
	}

	return &Response{
		Content:      content.String(),
		FunctionCall: call,
		Usage: domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
		Formatted: formatted(map[string]any{"system": system, "messages": messages}),
	}, nil
}
