package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 3000, cfg.TokenBudget)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 2.0, cfg.Retry.BaseSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NEARY_PROVIDER_TYPE", "anthropic")
	t.Setenv("NEARY_TOKEN_BUDGET", "500")
	t.Setenv("NEARY_RETRY_BASE_SECONDS", "0.5")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, ProviderAnthropic, cfg.Provider.Type)
	assert.Equal(t, 500, cfg.TokenBudget)
	assert.Equal(t, 0.5, cfg.Retry.BaseSeconds)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := Load()
	cfg.Provider.Type = "carrier-pigeon"

	err := cfg.Validate()
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "provider.type", cfgErr.Field)
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("NEARY_MODEL", "from-env")
	path := filepath.Join(t.TempDir(), "neary.yaml")
	content := "provider:\n  type: ollama\n  timeout: 5s\ntoken_budget: 42\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.Provider.Type)
	assert.Equal(t, 5*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 42, cfg.TokenBudget)
	assert.Equal(t, "from-env", cfg.Provider.Model)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	cfg := Load()
	s := cfg.DefaultSettings()
	assert.Equal(t, cfg.SystemMessage, s.SystemMessage)
	assert.Equal(t, cfg.TokenBudget, s.TokenBudget)
	require.NotNil(t, s.Model.Temperature)
	assert.Equal(t, cfg.Temperature, *s.Model.Temperature)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, ParseLogLevel("warn"))
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "shown")
	assert.Contains(t, file.String(), `"msg":"shown"`)
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("bogus"))
}
