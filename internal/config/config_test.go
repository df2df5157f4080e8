package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labeling-service/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8002", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Dispatch.Workers)
	assert.Equal(t, models.ProviderOpenAI, cfg.Dispatch.Provider)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)

	require.Len(t, cfg.Providers, len(models.ProviderTypes))
	openai := cfg.Providers[models.ProviderOpenAI]
	assert.Equal(t, "https://api.openai.com/v1", openai.BaseURL)
	assert.Equal(t, 10, openai.MaxTokens)
	assert.Equal(t, "sk-env", openai.APIKey)
	assert.Equal(t, "", cfg.Providers[models.ProviderGemini].BaseURL)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	t.Setenv("MY_GROQ_KEY", "gsk-123")

	path := writeConfig(t, `
server:
  port: "9000"
log:
  level: debug
  format: json
providers:
  groq:
    default_model: llama-3.1-8b-instant
    timeout: 5s
    api_key: ${MY_GROQ_KEY}
retry:
  max_attempts: 5
  base_delay: 100ms
dispatch:
  provider: groq
  workers: 12
  row_limit: 50
storage:
  projects_dir: /tmp/projects
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, models.ProviderGroq, cfg.Dispatch.Provider)
	assert.Equal(t, 12, cfg.Dispatch.Workers)
	assert.Equal(t, 50, cfg.Dispatch.RowLimit)
	assert.Equal(t, "/tmp/projects", cfg.Storage.ProjectsDir)
	assert.Equal(t, "./data/runs.db", cfg.Storage.DatabasePath)

	groq := cfg.Providers[models.ProviderGroq]
	assert.Equal(t, "llama-3.1-8b-instant", groq.DefaultModel)
	assert.Equal(t, 5*time.Second, groq.Timeout)
	assert.Equal(t, "https://api.groq.com/openai/v1", groq.BaseURL)
	assert.Equal(t, "gsk-123", groq.APIKey)
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "8002", cfg.Server.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "providers:\n  claude:\n    api_key: x\n"},
		{"workers too high", "dispatch:\n  workers: 21\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"malformed yaml", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
