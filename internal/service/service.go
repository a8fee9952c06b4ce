// Package service implements the conversation loop: context assembly,
// provider invocation, tool dispatch and the approval workflow.
package service

import (
	"log/slog"
	"time"

	"github.com/neary-ai/neary-sub000/internal/adapter/llm"
	"github.com/neary-ai/neary-sub000/internal/config"
	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/repository"
	"github.com/neary-ai/neary-sub000/internal/snippets"
	"github.com/neary-ai/neary-sub000/internal/tokenizer"
	"github.com/neary-ai/neary-sub000/internal/tools"
	"github.com/neary-ai/neary-sub000/policy"
)

// Channel delivers events to the UI of one conversation. Sends are fire
// and forget.
type Channel interface {
	Send(event domain.Event)
}

// ChannelSource hands out the UI channel of a conversation.
type ChannelSource interface {
	Channel(conversationID string) Channel
}

// NopChannel discards every event.
type NopChannel struct{}

func (NopChannel) Send(domain.Event) {}

type Service struct {
	store        repository.Store
	provider     llm.Provider
	tools        *tools.Registry
	snippets     *snippets.Registry
	policyEngine *policy.Engine
	tokens       tokenizer.Counter
	config       *config.Config
	retry        llm.RetryPolicy
	logger       *slog.Logger
	locks        *keyedMutex
	now          func() time.Time
}

// New creates the service. A nil policy engine falls back to the tools'
// approval flags and a nil counter to the character estimate.
func New(store repository.Store, provider llm.Provider, toolRegistry *tools.Registry, snippetRegistry *snippets.Registry,
	policyEngine *policy.Engine, counter tokenizer.Counter, cfg *config.Config, logger *slog.Logger) *Service {
	if toolRegistry == nil {
		toolRegistry = tools.NewRegistry()
	}
	if snippetRegistry == nil {
		snippetRegistry = snippets.NewRegistry()
	}
	if counter == nil {
		counter = tokenizer.Estimate{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		provider:     provider,
		tools:        toolRegistry,
		snippets:     snippetRegistry,
		policyEngine: policyEngine,
		tokens:       counter,
		config:       cfg,
		retry:        llm.RetryPolicy{Attempts: cfg.Retry.Attempts, BaseSeconds: cfg.Retry.BaseSeconds},
		logger:       logger,
		locks:        newKeyedMutex(),
		now:          time.Now,
	}
}

// Tools returns the tool registry.
func (s *Service) Tools() *tools.Registry { return s.tools }

// Snippets returns the snippet registry.
func (s *Service) Snippets() *snippets.Registry { return s.snippets }
