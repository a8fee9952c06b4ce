package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// OpenAIProvider streams chat completions from an OpenAI-compatible API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for baseURL. An empty baseURL uses
// the OpenAI default.
func NewOpenAIProvider(baseURL, apiKey, model string, httpClient *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	// Retries are handled by the caller's RetryPolicy.
	opts = append(opts, option.WithMaxRetries(0))
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

func toOpenAIMessages(chain domain.Chain) []openai.ChatCompletionMessageParamUnion {
	system, rest := SplitSystem(chain)
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(rest)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range rest {
		switch m.Role {
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(MessageText(m)))
		default:
			msgs = append(msgs, openai.UserMessage(MessageText(m)))
		}
	}
	return msgs
}

func toOpenAITools(req *Request) []openai.ChatCompletionToolUnionParam {
	if len(req.Tools) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(ToolParameters(t)),
		}))
	}
	return tools
}

// Stream sends the chain and streams the reply.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	messages := toOpenAIMessages(req.Chain)
	model := req.Params.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(model),
		Tools:    toOpenAITools(req),
	}
	if req.Params.Temperature != nil {
		params.Temperature = openai.Float(*req.Params.Temperature)
	}
	if req.Params.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.Params.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	acc := openai.ChatCompletionAccumulator{}

	var content strings.Builder
	var call *domain.FunctionCall
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if tool, ok := acc.JustFinishedToolCall(); ok && call == nil {
			call = &domain.FunctionCall{ID: tool.ID, Name: tool.Name, Arguments: parseArguments(tool.Arguments)}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			delta := chunk.Choices[0].Delta.Content
			content.WriteString(delta)
			emit(onDelta, delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, Classify(p.Name(), fmt.Errorf("openai streaming error: %w", err))
	}

	// Some servers never signal a finished tool call on the last chunk.
	if call == nil && len(acc.Choices) > 0 {
		for _, tc := range acc.Choices[0].Message.ToolCalls {
			if tc.Function.Name != "" {
				call = &domain.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: parseArguments(tc.Function.Arguments)}
				break
			}
		}
	}

	return &Response{
		Content:      content.String(),
		FunctionCall: call,
		Usage: domain.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
		},
		Formatted: formatted(messages),
	}, nil
}

func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"input": raw}
	}
	return args
}
