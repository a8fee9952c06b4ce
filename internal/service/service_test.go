package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neary-ai/neary-sub000/internal/config"
	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/repository"
	"github.com/neary-ai/neary-sub000/internal/snippets"
	"github.com/neary-ai/neary-sub000/internal/testutil"
	"github.com/neary-ai/neary-sub000/internal/tokenizer"
	"github.com/neary-ai/neary-sub000/internal/tools"
	"github.com/neary-ai/neary-sub000/policy"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

func rateLimited() error {
	return &domain.TransientProviderError{Provider: "scripted", Err: errors.New("429 rate limit exceeded")}
}

type fixture struct {
	svc      *Service
	store    *repository.SQLiteStore
	provider *testutil.ScriptedProvider
	tools    *tools.Registry
	snippets *snippets.Registry
	ch       *testutil.RecordingChannel
	conv     *domain.Conversation
}

func newTestConfig() *config.Config {
	return &config.Config{
		Retry:         config.RetryConfig{Attempts: 3, BaseSeconds: 0.001},
		SystemMessage: "S",
		TokenBudget:   3000,
		HistoryWindow: 200,
		MaxFollowUps:  5,
	}
}

// newFixture wires a service around a scripted provider. extra tools are
// registered before the conversation is created, so they are enabled.
func newFixture(t *testing.T, engine *policy.Engine, extra ...tools.Definition) *fixture {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewTestSQLiteStore(t)
	provider := testutil.NewScriptedProvider()

	toolRegistry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(toolRegistry, tools.Deps{Notes: store, Now: fixedNow}))
	for _, def := range extra {
		require.NoError(t, toolRegistry.Register(def))
	}

	if engine == nil {
		var err error
		engine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
		require.NoError(t, err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, provider, toolRegistry, snippets.NewRegistry(), engine, tokenizer.Estimate{}, newTestConfig(), logger)

	conv, err := svc.CreateConversation(ctx, "test", nil)
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		store:    store,
		provider: provider,
		tools:    toolRegistry,
		snippets: svc.Snippets(),
		ch:       &testutil.RecordingChannel{},
		conv:     conv,
	}
}

func (f *fixture) messages(t *testing.T) []domain.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID, 0)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) messagesWithRole(t *testing.T, role domain.Role) []domain.Message {
	var out []domain.Message
	for _, m := range f.messages(t) {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func TestHandleUserMessageStreamsAndPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Reply("Hel", "lo"))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "hi there", f.ch)
	require.NoError(t, err)
	assert.False(t, res.Failed)
	require.NotNil(t, res.Reply())
	assert.Equal(t, "Hello", res.Reply().Content)

	events := f.ch.Events()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventAssistantDelta, events[0].Type)
	assert.Equal(t, "Hel", events[0].Message.Content)
	assert.Equal(t, "Hello", events[1].Message.Content)
	assert.Equal(t, domain.EventAssistantFinal, events[2].Type)
	assert.NotEmpty(t, events[2].Message.ID)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Greater(t, msgs[1].TokenCount, 0)
	assert.Contains(t, string(msgs[0].Metadata), `"usage"`)

	// the second turn sees the first in its history
	f.provider.Push(testutil.Reply("again"))
	_, err = f.svc.HandleUserMessage(ctx, f.conv.ID, "more", f.ch)
	require.NoError(t, err)
	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	chain := reqs[1].Chain
	require.Len(t, chain, 4)
	assert.Equal(t, domain.RoleSystem, chain[0].Role)
	assert.Equal(t, "hi there", chain[1].Content)
	assert.Equal(t, "Hello", chain[2].Content)
	assert.Equal(t, "more", chain[3].Content)
}

func TestHandleUserMessageRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "   ", f.ch)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = f.svc.HandleUserMessage(ctx, "conv_missing", "hello", f.ch)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.RunTurn(ctx, f.conv.ID, domain.Message{Role: domain.RoleAssistant, Content: "x"}, f.ch)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	assert.Zero(t, f.provider.Calls())
}

func TestGatedToolCreatesPendingApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note that I need to buy milk", f.ch)
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	require.NotNil(t, res.Approval)
	assert.Equal(t, domain.ApprovalStatusPending, res.Approval.Status)

	pending, err := f.store.ListApprovals(ctx, f.conv.ID, domain.ApprovalStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "make_a_note", pending[0].ToolName)
	assert.Equal(t, "buy milk", pending[0].ToolArguments["text"])
	assert.Equal(t, res.Approval.NotificationID, pending[0].NotificationID)

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Empty(t, f.ch.Alerts())

	events := f.ch.OfType(domain.EventNotification)
	require.Len(t, events, 1)
	n := events[0].Notification
	assert.Contains(t, n.Body, "**Make a Note**")
	assert.Contains(t, n.Body, "| text | buy milk |")
	require.Len(t, n.Actions, 2)
	assert.Equal(t, "approve", n.Actions[0].Action)
	assert.Equal(t, res.Approval.ID, n.Actions[0].Payload["request_id"])
	assert.Equal(t, "reject", n.Actions[1].Action)

	active, err := f.store.ListNotifications(ctx, f.conv.ID, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// the user input and the function call are both in history
	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].FunctionCall)
	assert.Equal(t, "make_a_note", msgs[0].FunctionCall.Name)
}

func TestApproveExecutesAndFollowsUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note that I need to buy milk", f.ch)
	require.NoError(t, err)

	f.provider.Push(testutil.Reply("Noted."))
	ch := &testutil.RecordingChannel{}
	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	require.NotNil(t, out.Turn)
	assert.Equal(t, 1, out.Turn.FollowUps)
	assert.Equal(t, "Noted.", out.Turn.Reply().Content)

	ap, err := f.store.GetApproval(ctx, res.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusApproved, ap.Status)
	assert.NotNil(t, ap.ResolvedAt)

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "buy milk", notes[0].Text)

	outputs := f.messagesWithRole(t, domain.RoleFunction)
	require.Len(t, outputs, 1)
	assert.Equal(t, tools.NoteSavedMessage, outputs[0].Content)
	assert.Equal(t, "make_a_note", outputs[0].Name)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Chain.Last()
	assert.Equal(t, domain.RoleFunction, last.Role)
	assert.Equal(t, tools.NoteSavedMessage, last.Content)

	status := ch.OfType(domain.EventStatus)
	require.Len(t, status, 1)
	assert.Equal(t, domain.ApprovalStatusApproved, status[0].Status.ApprovalStatus)
	assert.Equal(t, res.Approval.NotificationID, status[0].Status.NotificationID)
	assert.Len(t, ch.OfType(domain.EventCommand), 1)

	active, err := f.store.ListNotifications(ctx, f.conv.ID, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestResolveApprovalTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}), testutil.Reply("Noted."))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)

	first, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", f.ch)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	calls := f.provider.Calls()

	for _, response := range []string{"approve", "reject"} {
		again, err := f.svc.ResolveApproval(ctx, res.Approval.ID, response, f.ch)
		require.NoError(t, err)
		assert.False(t, again.Applied)
	}

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Len(t, f.messagesWithRole(t, domain.RoleFunction), 1)
	assert.Equal(t, calls, f.provider.Calls())
}

func TestRejectedApprovalRecordsDeclinedOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}), testutil.Reply("Okay, I won't."))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)

	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "reject", f.ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.ApprovalStatusRejected, out.Approval.Status)

	outputs := f.messagesWithRole(t, domain.RoleFunction)
	require.Len(t, outputs, 1)
	assert.Contains(t, outputs[0].Content, "not executed")

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, 2, f.provider.Calls())
}

func TestRejectedApprovalWithoutFollowUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	off := false
	settings := f.conv.Settings
	ps := settings.Tools["make_a_note"]
	ps.FollowUpOnOutput = &off
	settings.Tools["make_a_note"] = ps
	require.NoError(t, f.svc.UpdateSettings(ctx, f.conv.ID, settings))

	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)

	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "rejected", f.ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, f.provider.Calls())
	outputs := f.messagesWithRole(t, domain.RoleFunction)
	require.Len(t, outputs, 1)
	assert.Equal(t, declinedOutput("make_a_note"), outputs[0].Content)
}

func TestResolveApprovalIgnoresInvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)

	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "maybe", f.ch)
	require.NoError(t, err)
	assert.False(t, out.Applied)

	out, err = f.svc.ResolveApproval(ctx, "ap_missing", "approve", f.ch)
	require.NoError(t, err)
	assert.False(t, out.Applied)

	ap, err := f.store.GetApproval(ctx, res.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalStatusPending, ap.Status)
}

func TestRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Fail(rateLimited()), testutil.Fail(rateLimited()), testutil.Reply("fine"))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "hello", f.ch)
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, "fine", res.Reply().Content)
	assert.Equal(t, 3, f.provider.Calls())
	assert.Empty(t, f.ch.Alerts())
	assert.Contains(t, string(res.Reply().Metadata), `"attempts":3`)
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	step := testutil.Fail(rateLimited())
	f.provider.Repeat = &step

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "hello", f.ch)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Nil(t, res.Reply())
	assert.Equal(t, 3, f.provider.Calls())

	alerts := f.ch.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertStateError, alerts[0].State)
	assert.Empty(t, f.ch.OfType(domain.EventAssistantFinal))

	// only the user's input reaches history
	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Fail(errors.New("401 invalid api key")))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "hello", f.ch)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, 1, f.provider.Calls())
	assert.Len(t, f.ch.Alerts(), 1)
}

func TestToolFailureEndsTurnWithAlerts(t *testing.T) {
	ctx := context.Background()
	explode := tools.Definition{
		Name:     "explode",
		Defaults: tools.Settings{FollowUpOnOutput: true},
		Execute: func(ctx context.Context, in tools.Input) (*tools.Output, error) {
			panic("boom")
		},
	}
	broken := tools.Definition{
		Name:     "broken",
		Defaults: tools.Settings{FollowUpOnOutput: true},
		Execute: func(ctx context.Context, in tools.Input) (*tools.Output, error) {
			return nil, errors.New("disk full")
		},
	}
	f := newFixture(t, nil, explode, broken)

	for _, name := range []string{"explode", "broken"} {
		t.Run(name, func(t *testing.T) {
			ch := &testutil.RecordingChannel{}
			before := f.provider.Calls()
			f.provider.Push(testutil.Call(name, nil))

			res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "run "+name, ch)
			require.NoError(t, err)
			assert.Zero(t, res.FollowUps)
			assert.False(t, res.Suspended)
			assert.Equal(t, before+1, f.provider.Calls())

			alerts := ch.Alerts()
			require.Len(t, alerts, 2)
			assert.Equal(t, domain.AlertStateStart, alerts[0].State)
			assert.Equal(t, domain.AlertStateError, alerts[1].State)
			assert.Equal(t, alerts[0].ID, alerts[1].ID)
		})
	}
	assert.Empty(t, f.messagesWithRole(t, domain.RoleFunction))
}

func TestToolFollowUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("get_current_time", nil), testutil.Reply("It is half past noon."))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "what time is it", f.ch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FollowUps)
	assert.Equal(t, "It is half past noon.", res.Reply().Content)

	alerts := f.ch.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.AlertStateSuccess, alerts[1].State)

	// most recent first: reply, output, call, user
	msgs := f.messages(t)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleFunction, msgs[1].Role)
	assert.Equal(t, "The current time is Friday, March 1, 2024 12:30 UTC.", msgs[1].Content)
}

func TestToolWithoutFollowUpPersistsOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	off := false
	settings := f.conv.Settings
	settings.Tools["get_current_time"] = domain.PluginSettings{Enabled: true, FollowUpOnOutput: &off}
	require.NoError(t, f.svc.UpdateSettings(ctx, f.conv.ID, settings))
	f.provider.Push(testutil.Call("get_current_time", nil))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "what time is it", f.ch)
	require.NoError(t, err)
	assert.Zero(t, res.FollowUps)
	assert.Equal(t, 1, f.provider.Calls())
	require.Len(t, res.Messages, 3)
	assert.Equal(t, domain.RoleFunction, res.Messages[2].Role)
	assert.Len(t, f.messagesWithRole(t, domain.RoleFunction), 1)
}

func TestUnknownOrDisabledToolIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	settings := f.conv.Settings
	settings.Tools["get_current_time"] = domain.PluginSettings{Enabled: false}
	require.NoError(t, f.svc.UpdateSettings(ctx, f.conv.ID, settings))

	for _, name := range []string{"launch_rockets", "get_current_time"} {
		f.provider.Push(testutil.Call(name, nil))
		res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "go", f.ch)
		require.NoError(t, err)
		assert.Zero(t, res.FollowUps)
	}
	assert.Equal(t, 2, f.provider.Calls())
	assert.Empty(t, f.ch.Alerts())
	assert.Empty(t, f.messagesWithRole(t, domain.RoleFunction))
}

func TestPolicyBlocksTool(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, `
package tool_policy

default decision = "allow"

decision = {"decision": "block", "reason": "clocks are off limits"} {
	input.tool_name == "get_current_time"
}
`)
	require.NoError(t, err)
	f := newFixture(t, engine)
	f.provider.Push(testutil.Call("get_current_time", nil))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "time?", f.ch)
	require.NoError(t, err)
	assert.Zero(t, res.FollowUps)

	alerts := f.ch.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertStateError, alerts[0].State)
	assert.Contains(t, alerts[0].Message, "clocks are off limits")
	assert.Empty(t, f.messagesWithRole(t, domain.RoleFunction))
}

func TestApprovedCallRunsUnderToolNamePolicy(t *testing.T) {
	ctx := context.Background()
	// gates by name only and never looks at bypass_approval
	engine, err := policy.NewEngine(ctx, `
package tool_policy

default decision = "allow"

decision = "require_approval" {
	input.tool_name == "make_a_note"
}
`)
	require.NoError(t, err)
	f := newFixture(t, engine)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}), testutil.Reply("Noted."))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)
	require.True(t, res.Suspended)

	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", f.ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	require.NotNil(t, out.Turn)
	assert.False(t, out.Turn.Suspended)

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	pending, err := f.store.ListApprovals(ctx, f.conv.ID, domain.ApprovalStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprovedCallStillBlockedByPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, `
package tool_policy

default decision = "require_approval"

decision = "block" {
	input.bypass_approval
}
`)
	require.NoError(t, err)
	f := newFixture(t, engine)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)
	require.True(t, res.Suspended)

	ch := &testutil.RecordingChannel{}
	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)
	alerts := ch.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertStateError, alerts[0].State)
}

func TestApprovedCallForDisabledToolAnswersCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)
	require.True(t, res.Suspended)

	settings := f.conv.Settings
	settings.Tools["make_a_note"] = domain.PluginSettings{Enabled: false}
	require.NoError(t, f.svc.UpdateSettings(ctx, f.conv.ID, settings))

	out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", f.ch)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, f.provider.Calls())

	outputs := f.messagesWithRole(t, domain.RoleFunction)
	require.Len(t, outputs, 1)
	assert.Equal(t, "make_a_note", outputs[0].Name)
	assert.Contains(t, outputs[0].Content, "no longer available")

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestFollowUpLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.svc.config.MaxFollowUps = 2
	step := testutil.Call("get_current_time", nil)
	f.provider.Repeat = &step

	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "loop", f.ch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FollowUps)
	assert.Equal(t, 3, f.provider.Calls())
	assert.Len(t, f.messagesWithRole(t, domain.RoleFunction), 3)
}

func TestSnippetsContributeToSystemMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.snippets.Register(snippets.Definition{
		Name: "weather",
		Run: func(ctx context.Context, in snippets.Input) ([]domain.Message, error) {
			return []domain.Message{{Role: domain.RoleSnippet, Content: "It is sunny."}}, nil
		},
	}))
	require.NoError(t, f.snippets.Register(snippets.Definition{
		Name: "flaky",
		Run: func(ctx context.Context, in snippets.Input) ([]domain.Message, error) {
			return nil, errors.New("unavailable")
		},
	}))
	settings := f.conv.Settings
	settings.Snippets = map[string]domain.PluginSettings{"weather": {Enabled: true}, "flaky": {Enabled: true}}
	require.NoError(t, f.svc.UpdateSettings(ctx, f.conv.ID, settings))
	f.provider.Push(testutil.Reply("ok"))

	_, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "hello", f.ch)
	require.NoError(t, err)

	chain := f.provider.Requests()[0].Chain
	require.Len(t, chain, 2)
	assert.Equal(t, "S\n\nIt is sunny.", chain[0].Content)
}

func TestDefaultSettingsEnableRegisteredPlugins(t *testing.T) {
	f := newFixture(t, nil)
	settings := f.svc.DefaultSettings()
	assert.True(t, settings.ToolEnabled("make_a_note"))
	assert.True(t, settings.ToolEnabled("get_current_time"))
	assert.Equal(t, "S", settings.SystemMessage)
	assert.Equal(t, 3000, settings.TokenBudget)
}

func TestConcurrentResolutionsExecuteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.provider.Push(testutil.Call("make_a_note", map[string]any{"text": "buy milk"}), testutil.Reply("Noted."))
	res, err := f.svc.HandleUserMessage(ctx, f.conv.ID, "note milk", f.ch)
	require.NoError(t, err)

	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		go func() {
			out, err := f.svc.ResolveApproval(ctx, res.Approval.ID, "approve", nil)
			results <- err == nil && out.Applied
		}()
	}
	applied := 0
	for i := 0; i < 4; i++ {
		if <-results {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	notes, err := f.store.ListNotes(ctx, f.conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Len(t, f.messagesWithRole(t, domain.RoleFunction), 1)
}
