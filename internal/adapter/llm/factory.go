package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/neary-ai/neary-sub000/internal/config"
	"github.com/neary-ai/neary-sub000/internal/domain"
)

// NewProvider creates the provider selected by cfg.Type. Unknown types
// return a ConfigurationError.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var p Provider
	var err error
	switch cfg.Type {
	case config.ProviderOpenAI:
		p = NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient)
	case config.ProviderAnthropic:
		p = NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient)
	case config.ProviderOllama:
		p, err = NewOllamaProvider(cfg.BaseURL, cfg.Model, httpClient)
	case config.ProviderOllamaGenerate:
		p, err = NewOllamaGenerateProvider(cfg.BaseURL, cfg.Model, httpClient)
	case config.ProviderGemini:
		p, err = NewGeminiProvider(ctx, cfg.BaseURL, cfg.APIKey, cfg.Model, httpClient)
	case config.ProviderMock:
		p = NewMockProvider()
	default:
		return nil, &domain.ConfigurationError{Field: "provider.type", Reason: "unknown provider type " + strconv.Quote(cfg.Type)}
	}
	if err != nil {
		return nil, err
	}
	logger.Info("llm provider configured", "type", cfg.Type, "model", cfg.Model)
	return p, nil
}
