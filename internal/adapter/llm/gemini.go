package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// GeminiProvider streams content from the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, baseURL, apiKey, model string, httpClient *http.Client) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		Backend:    genai.BackendGeminiAPI,
		APIKey:     apiKey,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "provider", Reason: fmt.Sprintf("failed to create gemini client: %v", err)}
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string { return "gemini" }

func toGeminiContents(chain domain.Chain) (*genai.Content, []*genai.Content) {
	system, rest := SplitSystem(chain)
	var systemContent *genai.Content
	if system != "" {
		systemContent = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(MessageText(m), role))
	}
	return systemContent, contents
}

func toGeminiTools(req *Request) []*genai.Tool {
	if len(req.Tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, t := range req.Tools {
		props := make(map[string]*genai.Schema, len(t.InputSchema.Properties))
		for name, prop := range t.InputSchema.Properties {
			typ, desc := propertyType(prop)
			props[name] = &genai.Schema{Type: genai.Type(strings.ToUpper(typ)), Description: desc}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   t.InputSchema.Required,
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Stream sends the chain and streams the reply.
func (p *GeminiProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	system, contents := toGeminiContents(req.Chain)
	model := req.Params.Model
	if model == "" {
		model = p.model
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             toGeminiTools(req),
	}
	if req.Params.Temperature != nil {
		t := float32(*req.Params.Temperature)
		config.Temperature = &t
	}
	if req.Params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.Params.MaxTokens)
	}

	var content strings.Builder
	var call *domain.FunctionCall
	var usage domain.Usage
	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return nil, Classify(p.Name(), fmt.Errorf("gemini streaming error: %w", err))
		}
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" && !part.Thought {
				content.WriteString(part.Text)
				emit(onDelta, part.Text)
			}
			if part.FunctionCall != nil && call == nil {
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				call = &domain.FunctionCall{ID: part.FunctionCall.ID, Name: part.FunctionCall.Name, Arguments: args}
			}
		}
	}

	return &Response{
		Content:      content.String(),
		FunctionCall: call,
		Usage:        usage,
		Formatted:    formatted(map[string]any{"system": system, "contents": contents}),
	}, nil
}
