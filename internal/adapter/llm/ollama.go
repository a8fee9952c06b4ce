package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

const ollamaDefaultURL = "http://localhost:11434"

func newOllamaClient(baseURL string, httpClient *http.Client) (*api.Client, error) {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "provider.base_url", Reason: err.Error()}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return api.NewClient(u, httpClient), nil
}

func ollamaOptions(params domain.ModelParameters) map[string]any {
	opts := map[string]any{}
	if params.Temperature != nil {
		opts["temperature"] = *params.Temperature
	}
	if params.MaxTokens > 0 {
		opts["num_predict"] = params.MaxTokens
	}
	return opts
}

// OllamaProvider streams chat completions with native tool calling.
type OllamaProvider struct {
	client *api.Client
	model  string
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a chat provider for an Ollama server.
func NewOllamaProvider(baseURL, model string, httpClient *http.Client) (*OllamaProvider, error) {
	client, err := newOllamaClient(baseURL, httpClient)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{client: client, model: model}, nil
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string { return "ollama" }

func toOllamaMessages(chain domain.Chain) []api.Message {
	system, rest := SplitSystem(chain)
	msgs := make([]api.Message, 0, len(rest)+1)
	if system != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: system})
	}
	for _, m := range rest {
		switch m.Role {
		case domain.RoleAssistant:
			msg := api.Message{Role: "assistant", Content: m.Content}
			if m.FunctionCall != nil {
				args := api.NewToolCallFunctionArguments()
				for k, v := range m.FunctionCall.Arguments {
					args.Set(k, v)
				}
				msg.ToolCalls = []api.ToolCall{{
					ID:       m.FunctionCall.ID,
					Function: api.ToolCallFunction{Name: m.FunctionCall.Name, Arguments: args},
				}}
			}
			msgs = append(msgs, msg)
		case domain.RoleFunction:
			msgs = append(msgs, api.Message{Role: "tool", Content: m.Content})
		default:
			msgs = append(msgs, api.Message{Role: "user", Content: m.Content})
		}
	}
	return msgs
}

func toOllamaTools(req *Request) []api.Tool {
	tools := make([]api.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: api.NewToolPropertiesMap(),
		}
		if len(t.InputSchema.Required) > 0 {
			params.Required = t.InputSchema.Required
		}
		for name, prop := range t.InputSchema.Properties {
			typ, desc := propertyType(prop)
			params.Properties.Set(name, api.ToolProperty{
				Type:        api.PropertyType{strings.ToLower(typ)},
				Description: desc,
			})
		}
		tools = append(tools, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// Stream sends the chain and streams the reply.
func (p *OllamaProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	messages := toOllamaMessages(req.Chain)
	model := req.Params.Model
	if model == "" {
		model = p.model
	}
	stream := true
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  ollamaOptions(req.Params),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOllamaTools(req)
	}

	var content strings.Builder
	var call *domain.FunctionCall
	var usage domain.Usage
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			emit(onDelta, resp.Message.Content)
		}
		if call == nil && len(resp.Message.ToolCalls) > 0 {
			tc := resp.Message.ToolCalls[0]
			call = &domain.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments.ToMap()}
		}
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, Classify(p.Name(), fmt.Errorf("ollama chat error: %w", err))
	}

	return &Response{
		Content:      content.String(),
		FunctionCall: call,
		Usage:        usage,
		Formatted:    formatted(messages),
	}, nil
}

// OllamaGenerateProvider uses the text-only generate endpoint. The chain is
// flattened into one prompt and function calls are parsed from the reply.
type OllamaGenerateProvider struct {
	client *api.Client
	model  string
}

var _ Provider = (*OllamaGenerateProvider)(nil)

// NewOllamaGenerateProvider creates a text-only provider for an Ollama server.
func NewOllamaGenerateProvider(baseURL, model string, httpClient *http.Client) (*OllamaGenerateProvider, error) {
	client, err := newOllamaClient(baseURL, httpClient)
	if err != nil {
		return nil, err
	}
	return &OllamaGenerateProvider{client: client, model: model}, nil
}

// Name returns the provider name.
func (p *OllamaGenerateProvider) Name() string { return "ollama_generate" }

// FlattenPrompt renders a chain as a single text prompt and system block.
func FlattenPrompt(chain domain.Chain, tools []mcp.Tool) (string, string) {
	system, rest := SplitSystem(chain)
	if instr := ToolInstructions(tools); instr != "" {
		if system != "" {
			system += "\n\n"
		}
		system += instr
	}
	var b strings.Builder
	for _, m := range rest {
		label := "User"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, MessageText(m))
	}
	b.WriteString("Assistant:")
	return system, b.String()
}

// Stream sends the flattened prompt and streams the reply.
func (p *OllamaGenerateProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	system, prompt := FlattenPrompt(req.Chain, req.Tools)
	model := req.Params.Model
	if model == "" {
		model = p.model
	}
	stream := true
	genReq := &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		System:  system,
		Stream:  &stream,
		Options: ollamaOptions(req.Params),
	}

	var content strings.Builder
	var usage domain.Usage
	err := p.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		if resp.Response != "" {
			content.WriteString(resp.Response)
			emit(onDelta, resp.Response)
		}
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, Classify(p.Name(), fmt.Errorf("ollama generate error: %w", err))
	}

	text := content.String()
	call, rest := ParseFunctionCall(text)
	if call != nil {
		text = rest
	}
	return &Response{
		Content:      text,
		FunctionCall: call,
		Usage:        usage,
		Formatted:    formatted(map[string]string{"system": system, "prompt": prompt}),
	}, nil
}
