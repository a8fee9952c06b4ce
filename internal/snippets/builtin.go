package snippets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/retrieval"
)

// NoteLister reads saved notes.
type NoteLister interface {
	ListNotes(ctx context.Context, conversationID string, limit int) ([]domain.Note, error)
}

// Deps are the collaborators of the built-in snippets.
type Deps struct {
	Notes     NoteLister
	Retriever retrieval.Retriever
	Now       func() time.Time
}

func snippet(text string) []domain.Message {
	return []domain.Message{{Role: domain.RoleSnippet, Content: text}}
}

// Builtins returns the built-in snippet definitions.
func Builtins(deps Deps) []Definition {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	defs := []Definition{{
		Name:        "current_datetime",
		DisplayName: "Date & Time",
		Description: "Tells the model the current date and time",
		Run: func(ctx context.Context, in Input) ([]domain.Message, error) {
			return snippet("The current date and time is " + deps.Now().Format("Monday, January 2, 2006 15:04 MST") + "."), nil
		},
	}}
	if deps.Retriever != nil {
		defs = append(defs, Definition{
			Name:        "document_search",
			DisplayName: "Relevant Documents",
			Description: "Adds documents matching the user's message",
			Run: func(ctx context.Context, in Input) ([]domain.Message, error) {
				limit := 3
				if l, ok := in.Options["limit"].(float64); ok && l > 0 {
					limit = int(l)
				}
				results, err := deps.Retriever.Search(ctx, in.Query, limit)
				if err != nil {
					return nil, err
				}
				if len(results) == 0 {
					return nil, nil
				}
				var b strings.Builder
				b.WriteString("Documents relevant to the user's message:\n")
				for _, res := range results {
					fmt.Fprintf(&b, "\n[%s]\n%s\n", res.Source, strings.TrimSpace(res.Content))
				}
				return snippet(strings.TrimSpace(b.String())), nil
			},
		})
	}
	if deps.Notes != nil {
		defs = append(defs, Definition{
			Name:        "notes",
			DisplayName: "Saved Notes",
			Description: "Lists the notes the user has saved",
			Run: func(ctx context.Context, in Input) ([]domain.Message, error) {
				notes, err := deps.Notes.ListNotes(ctx, in.ConversationID, 20)
				if err != nil {
					return nil, err
				}
				if len(notes) == 0 {
					return nil, nil
				}
				var b strings.Builder
				b.WriteString("The user's saved notes:")
				for _, n := range notes {
					b.WriteString("\n- " + n.Text)
				}
				return snippet(b.String()), nil
			},
		})
	}
	return defs
}

// RegisterBuiltins registers every built-in snippet on r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	for _, def := range Builtins(deps) {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
