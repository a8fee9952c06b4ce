// Package config provides configuration for the conversation service.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Provider types accepted by the LLM factory.
const (
	ProviderOpenAI         = "openai"
	ProviderAnthropic      = "anthropic"
	ProviderOllama         = "ollama"
	ProviderOllamaGenerate = "ollama_generate"
	ProviderGemini         = "gemini"
	ProviderMock           = "mock"
)

// ProviderConfig selects and authenticates the LLM backend.
type ProviderConfig struct {
	Type    string        `yaml:"type"`
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig controls provider retries on transient failures.
type RetryConfig struct {
	Attempts    int     `yaml:"attempts"`
	BaseSeconds float64 `yaml:"base_seconds"`
}

// WSConfig holds websocket transport settings.
type WSConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int `yaml:"http_port"`

	// Database
	DatabaseURL string `yaml:"database_url"`

	Provider ProviderConfig `yaml:"provider"`
	Retry    RetryConfig    `yaml:"retry"`
	WS       WSConfig       `yaml:"ws"`

	// Conversation defaults applied to new conversations
	SystemMessage string  `yaml:"system_message"`
	TokenBudget   int     `yaml:"token_budget"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`

	// HistoryWindow caps how many stored messages the context builder reads.
	HistoryWindow int `yaml:"history_window"`
	// MaxFollowUps caps chained tool follow-ups within one turn.
	MaxFollowUps int `yaml:"max_follow_ups"`

	TokenizerEncoding string `yaml:"tokenizer_encoding"`
	PolicyFile        string `yaml:"policy_file"`
	DocumentsDir      string `yaml:"documents_dir"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", "file:neary.db?cache=shared&mode=rwc"),
		Provider: ProviderConfig{
			Type:    getEnv("NEARY_PROVIDER_TYPE", ProviderOpenAI),
			BaseURL: getEnv("NEARY_PROVIDER_BASE_URL", ""),
			APIKey:  getEnv("NEARY_PROVIDER_API_KEY", ""),
			Model:   getEnv("NEARY_MODEL", "gpt-4o-mini"),
			Timeout: time.Duration(getEnvInt("NEARY_LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		},
		Retry: RetryConfig{
			Attempts:    getEnvInt("NEARY_RETRY_ATTEMPTS", 3),
			BaseSeconds: getEnvFloat("NEARY_RETRY_BASE_SECONDS", 2),
		},
		WS: WSConfig{
			PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
			WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
			ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
			MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		},
		SystemMessage:     getEnv("NEARY_SYSTEM_MESSAGE", "You are a helpful assistant."),
		TokenBudget:       getEnvInt("NEARY_TOKEN_BUDGET", 3000),
		Temperature:       getEnvFloat("NEARY_TEMPERATURE", 0.7),
		MaxTokens:         getEnvInt("NEARY_MAX_TOKENS", 1024),
		HistoryWindow:     getEnvInt("NEARY_HISTORY_WINDOW", 200),
		MaxFollowUps:      getEnvInt("NEARY_MAX_FOLLOW_UPS", 5),
		TokenizerEncoding: getEnv("NEARY_TOKENIZER_ENCODING", "cl100k_base"),
		PolicyFile:        getEnv("NEARY_POLICY_FILE", ""),
		DocumentsDir:      getEnv("NEARY_DOCUMENTS_DIR", ""),
		LogLevel:          getEnv("NEARY_LOG_LEVEL", "info"),
		LogFile:           getEnv("NEARY_LOG_FILE", ""),
	}
	return cfg
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderOllamaGenerate, ProviderGemini, ProviderMock:
	default:
		return &domain.ConfigurationError{Field: "provider.type", Reason: "unknown provider type " + strconv.Quote(c.Provider.Type)}
	}
	if c.Retry.Attempts < 1 {
		return &domain.ConfigurationError{Field: "retry.attempts", Reason: "must be at least 1"}
	}
	if c.TokenBudget < 0 {
		return &domain.ConfigurationError{Field: "token_budget", Reason: "must not be negative"}
	}
	return nil
}

// DefaultSettings returns the settings applied to a newly created conversation.
func (c *Config) DefaultSettings() domain.ConversationSettings {
	temp := c.Temperature
	return domain.ConversationSettings{
		SystemMessage: c.SystemMessage,
		TokenBudget:   c.TokenBudget,
		Model: domain.ModelParameters{
			Model:       c.Provider.Model,
			Temperature: &temp,
			MaxTokens:   c.MaxTokens,
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
