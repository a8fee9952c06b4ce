package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// SplitSystem separates the system block from the rest of the chain.
// Multiple system or snippet messages are joined in order.
func SplitSystem(chain domain.Chain) (string, domain.Chain) {
	var system []string
	rest := make(domain.Chain, 0, len(chain))
	for _, m := range chain {
		switch m.Role {
		case domain.RoleSystem, domain.RoleSnippet:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		default:
			rest = append(rest, m)
		}
	}
	return strings.Join(system, "\n\n"), rest
}

// MessageText renders m as plain text for backends without structured
// function turns in history.
func MessageText(m domain.Message) string {
	if m.Role == domain.RoleFunction {
		return FunctionOutputText(m.Name, m.Content)
	}
	if m.FunctionCall != nil {
		call := RenderFunctionCall(*m.FunctionCall)
		if strings.TrimSpace(m.Content) == "" {
			return call
		}
		return m.Content + "\n\n" + call
	}
	return m.Content
}

// FunctionOutputText renders the output of a tool as user-visible text.
func FunctionOutputText(name, content string) string {
	return fmt.Sprintf("Function `%s` returned:\n%s", name, content)
}

// RenderFunctionCall renders fc in the JSON shape ParseFunctionCall accepts.
func RenderFunctionCall(fc domain.FunctionCall) string {
	args := fc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, _ := json.Marshal(map[string]any{"function": fc.Name, "arguments": args})
	return string(raw)
}

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseFunctionCall extracts a function call a text-only model wrote into
// its reply. It accepts {"function": name, "arguments": {...}} with "name"
// and "args" as aliases, bare or inside a code fence. The returned text is
// the reply with the call removed.
func ParseFunctionCall(text string) (*domain.FunctionCall, string) {
	if m := codeFencePattern.FindStringSubmatchIndex(text); m != nil {
		if fc := decodeFunctionCall(text[m[2]:m[3]]); fc != nil {
			return fc, strings.TrimSpace(text[:m[0]] + text[m[1]:])
		}
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			if fc := decodeFunctionCall(string(raw)); fc != nil {
				end := start + int(dec.InputOffset())
				return fc, strings.TrimSpace(text[:start] + text[end:])
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, text
}

func decodeFunctionCall(raw string) *domain.FunctionCall {
	var v struct {
		Function  string         `json:"function"`
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
		Args      map[string]any `json:"args"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	name := v.Function
	if name == "" {
		name = v.Name
	}
	if name == "" {
		return nil
	}
	args := v.Arguments
	if args == nil {
		args = v.Args
	}
	if args == nil {
		args = map[string]any{}
	}
	return &domain.FunctionCall{Name: name, Arguments: args}
}

// ToolParameters returns the JSON schema of a tool's input.
func ToolParameters(t mcp.Tool) map[string]any {
	props := t.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.InputSchema.Required) > 0 {
		schema["required"] = t.InputSchema.Required
	}
	return schema
}

// ToolInstructions describes tools in prose for models that only accept text.
func ToolInstructions(tools []mcp.Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("You can call the following functions. To call one, reply with only a JSON object of the form ")
	b.WriteString(`{"function": "<name>", "arguments": {...}}` + ".\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n- %s: %s\n", t.Name, t.Description)
		names := make([]string, 0, len(t.InputSchema.Properties))
		for name := range t.InputSchema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			desc := ""
			if p, ok := t.InputSchema.Properties[name].(map[string]any); ok {
				desc, _ = p["description"].(string)
			}
			fmt.Fprintf(&b, "  - %s: %s\n", name, desc)
		}
	}
	return b.String()
}

// propertyType returns the JSON schema type of a tool property.
func propertyType(prop any) (string, string) {
	p, ok := prop.(map[string]any)
	if !ok {
		return "string", ""
	}
	typ, _ := p["type"].(string)
	if typ == "" {
		typ = "string"
	}
	desc, _ := p["description"].(string)
	return typ, desc
}
