package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/retrieval"
)

// NoteSaver persists notes for make_a_note.
type NoteSaver interface {
	CreateNote(ctx context.Context, note *domain.Note) error
}

// Deps are the collaborators of the built-in tools.
type Deps struct {
	Notes     NoteSaver
	Retriever retrieval.Retriever
	Now       func() time.Time
}

// NoteSavedMessage is the output of a successful make_a_note call.
const NoteSavedMessage = "Your note has been saved!"

// Builtins returns the built-in tool definitions.
func Builtins(deps Deps) []Definition {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	defs := []Definition{
		{
			Name:        "get_current_time",
			DisplayName: "Current Time",
			Description: "Get the current date and time",
			Schema: mcp.NewTool("get_current_time",
				mcp.WithDescription("Get the current date and time"),
				mcp.WithString("timezone", mcp.Description("IANA timezone name, e.g. Europe/Lisbon")),
			),
			Defaults: Settings{FollowUpOnOutput: true},
			Execute:  currentTime(deps.Now),
		},
	}
	if deps.Notes != nil {
		defs = append(defs, Definition{
			Name:        "make_a_note",
			DisplayName: "Make a Note",
			Description: "Save a note for the user",
			Schema: mcp.NewTool("make_a_note",
				mcp.WithDescription("Save a note for the user"),
				mcp.WithString("text", mcp.Required(), mcp.Description("The note text")),
			),
			Defaults: Settings{RequiresApproval: true, FollowUpOnOutput: true},
			Execute:  makeNote(deps.Notes),
		})
	}
	if deps.Retriever != nil {
		defs = append(defs, Definition{
			Name:        "search_documents",
			DisplayName: "Document Search",
			Description: "Search the user's documents",
			Schema: mcp.NewTool("search_documents",
				mcp.WithDescription("Search the user's documents"),
				mcp.WithString("query", mcp.Required(), mcp.Description("What to search for")),
			),
			Defaults: Settings{FollowUpOnOutput: true},
			Execute:  searchDocuments(deps.Retriever),
		})
	}
	return defs
}

// RegisterBuiltins registers every built-in tool on r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	for _, def := range Builtins(deps) {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing argument %q", domain.ErrMalformedInput, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: argument %q must be a non-empty string", domain.ErrMalformedInput, key)
	}
	return s, nil
}

func makeNote(notes NoteSaver) ExecutorFunc {
	return func(ctx context.Context, in Input) (*Output, error) {
		text, err := stringArg(in.Arguments, "text")
		if err != nil {
			return nil, err
		}
		note := &domain.Note{ConversationID: in.ConversationID, Text: text}
		if err := notes.CreateNote(ctx, note); err != nil {
			return nil, fmt.Errorf("failed to save note: %w", err)
		}
		data, _ := json.Marshal(map[string]string{"note_id": note.ID})
		return &Output{
			Content: NoteSavedMessage,
			Data:    data,
			Command: &domain.Command{Name: "notes_updated", Args: map[string]any{"note_id": note.ID}},
		}, nil
	}
}

func currentTime(now func() time.Time) ExecutorFunc {
	return func(ctx context.Context, in Input) (*Output, error) {
		t := now()
		tz, _ := in.Arguments["timezone"].(string)
		if tz == "" {
			tz, _ = in.Options["timezone"].(string)
		}
		if tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrMalformedInput, tz)
			}
			t = t.In(loc)
		}
		return &Output{Content: "The current time is " + t.Format("Monday, January 2, 2006 15:04 MST") + "."}, nil
	}
}

func searchDocuments(r retrieval.Retriever) ExecutorFunc {
	return func(ctx context.Context, in Input) (*Output, error) {
		query, err := stringArg(in.Arguments, "query")
		if err != nil {
			return nil, err
		}
		results, err := r.Search(ctx, query, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to search documents: %w", err)
		}
		if len(results) == 0 {
			return &Output{Content: "No matching documents were found."}, nil
		}
		var b strings.Builder
		for _, res := range results {
			fmt.Fprintf(&b, "[%s]\n%s\n\n", res.Source, strings.TrimSpace(res.Content))
		}
		data, _ := json.Marshal(results)
		return &Output{Content: strings.TrimSpace(b.String()), Data: data}, nil
	}
}
