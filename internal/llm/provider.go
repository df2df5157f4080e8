package llm

import (
	"context"
	"fmt"
	"time"

	"labeling-service/internal/gemini"
	"labeling-service/internal/llmerr"
	"labeling-service/internal/models"
	"labeling-service/internal/openai"

	"go.uber.org/zap"
)

// Provider is the uniform interface over every LLM backend
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// ProviderSettings holds the non-secret per-provider options from the config file
type ProviderSettings struct {
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	// APIKey is an optional fallback key, typically "${OPENAI_API_KEY}"
	APIKey string `yaml:"api_key"`
}

// Factory builds a provider for one run
type Factory func(ctx context.Context, cfg models.ProviderConfig) (Provider, error)

// NewFactory returns a Factory backed by the real provider clients
func NewFactory(settings map[models.ProviderType]ProviderSettings, logger *zap.Logger) Factory {
	return func(ctx context.Context, cfg models.ProviderConfig) (Provider, error) {
		return NewProvider(ctx, cfg, settings[cfg.Provider], logger)
	}
}

// NewProvider creates the client for cfg.Provider
func NewProvider(ctx context.Context, cfg models.ProviderConfig, s ProviderSettings, logger *zap.Logger) (Provider, error) {
	model := cfg.Model
	if model == "" {
		model = s.DefaultModel
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = s.APIKey
	}

	switch cfg.Provider {
	case models.ProviderOpenAI, models.ProviderGroq, models.ProviderOpenRouter:
		return openai.NewClient(openai.Config{
			Provider:  string(cfg.Provider),
			APIKey:    apiKey,
			BaseURL:   s.BaseURL,
			ModelName: model,
			MaxTokens: s.MaxTokens,
			Timeout:   s.Timeout,
		}, logger)
	case models.ProviderGemini:
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:    apiKey,
			ModelName: model,
			MaxTokens: int32(s.MaxTokens),
			Endpoint:  s.BaseURL,
			Timeout:   s.Timeout,
		}, logger)
	default:
		return nil, llmerr.New(string(cfg.Provider), llmerr.Fatal, fmt.Sprintf("unknown provider type %q", cfg.Provider))
	}
}

// DefaultModel returns the model used when none is chosen for provider
func DefaultModel(provider models.ProviderType, settings map[models.ProviderType]ProviderSettings) string {
	if s, ok := settings[provider]; ok && s.DefaultModel != "" {
		return s.DefaultModel
	}
	if provider == models.ProviderGemini {
		return gemini.DefaultModel
	}
	return openai.DefaultModels[string(provider)]
}
