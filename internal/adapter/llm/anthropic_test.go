package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

type anthropicEvent struct {
	name string
	data string
}

// anthropicServer replays events as a messages stream and hands the decoded
// request body to bodies.
func anthropicServer(t *testing.T, events []anthropicEvent, bodies chan<- map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		if bodies != nil {
			raw, _ := io.ReadAll(r.Body)
			var body map[string]any
			_ = json.Unmarshal(raw, &body)
			bodies <- body
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const anthropicStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"usage":{"input_tokens":12,"output_tokens":0}}}`

func TestAnthropicProviderStreamsText(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := anthropicServer(t, []anthropicEvent{
		{"message_start", anthropicStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"ping", `{"type":"ping"}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}, bodies)

	p := NewAnthropicProvider(srv.URL, "k", "m", srv.Client())
	var deltas []string
	resp, err := p.Stream(context.Background(), &Request{
		Chain: domain.Chain{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleUser, Content: "again"},
		},
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Nil(t, resp.FunctionCall)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)

	body := <-bodies
	assert.Equal(t, "m", body["model"])
	system := body["system"].([]any)
	assert.Equal(t, "sys", system[0].(map[string]any)["text"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	var roles, texts []string
	for _, m := range messages {
		msg := m.(map[string]any)
		roles = append(roles, msg["role"].(string))
		texts = append(texts, msg["content"].([]any)[0].(map[string]any)["text"].(string))
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
	assert.Equal(t, []string{"hi", "hello", "again"}, texts)
}

func TestAnthropicProviderToolUse(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := anthropicServer(t, []anthropicEvent{
		{"message_start", anthropicStart},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"make_a_note","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"text\":"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"buy milk\"}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}, bodies)

	p := NewAnthropicProvider(srv.URL, "k", "m", srv.Client())
	resp, err := p.Stream(context.Background(), &Request{
		Chain: domain.Chain{{Role: domain.RoleUser, Content: "note buy milk"}},
		Tools: []mcp.Tool{mcp.NewTool("make_a_note",
			mcp.WithDescription("Save a note"),
			mcp.WithString("text", mcp.Required()),
		)},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.FunctionCall)
	assert.Equal(t, "toolu_1", resp.FunctionCall.ID)
	assert.Equal(t, "make_a_note", resp.FunctionCall.Name)
	assert.Equal(t, "buy milk", resp.FunctionCall.Arguments["text"])

	body := <-bodies
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "make_a_note", tool["name"])
	assert.Equal(t, "Save a note", tool["description"])
}

func TestAnthropicProviderClassifiesStatus(t *testing.T) {
	for _, tc := range []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
		}))
		p := NewAnthropicProvider(srv.URL, "k", "m", srv.Client())
		_, err := p.Stream(context.Background(), &Request{Chain: domain.Chain{{Role: domain.RoleUser, Content: "hi"}}}, nil)
		srv.Close()

		require.Error(t, err, tc.status)
		assert.Equal(t, tc.transient, domain.IsTransient(err), tc.status)
	}
}

func TestAnthropicProviderIncompleteStreamIsTransient(t *testing.T) {
	// A delta arriving before any content block means frames were lost.
	srv := anthropicServer(t, []anthropicEvent{
		{"message_start", anthropicStart},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`},
	}, nil)

	p := NewAnthropicProvider(srv.URL, "k", "m", srv.Client())
	_, err := p.Stream(context.Background(), &Request{Chain: domain.Chain{{Role: domain.RoleUser, Content: "hi"}}}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "accumulating")
}
