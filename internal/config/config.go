package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"labeling-service/internal/gemini"
	"labeling-service/internal/llm"
	"labeling-service/internal/models"
	"labeling-service/internal/openai"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig                                 `yaml:"server"`
	Log       LogConfig                                    `yaml:"log"`
	Providers map[models.ProviderType]llm.ProviderSettings `yaml:"providers"`
	Retry     llm.RetryPolicy                              `yaml:"retry"`
	Dispatch  DispatchConfig                               `yaml:"dispatch"`
	Storage   StorageConfig                                `yaml:"storage"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// DispatchConfig holds the run defaults
type DispatchConfig struct {
	Provider models.ProviderType `yaml:"provider"`
	Workers  int                 `yaml:"workers"`
	RowLimit int                 `yaml:"row_limit"` // 0 = all rows
}

// StorageConfig locates the run history database and the project files
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ProjectsDir  string `yaml:"projects_dir"`
}

var defaultKeyEnv = map[models.ProviderType]string{
	models.ProviderOpenAI:     "${OPENAI_API_KEY}",
	models.ProviderGemini:     "${GEMINI_API_KEY}",
	models.ProviderGroq:       "${GROQ_API_KEY}",
	models.ProviderOpenRouter: "${OPENROUTER_API_KEY}",
}

// LoadConfig loads configuration from a YAML file.
// An empty path yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Expand environment variables in provider API keys
	for p, s := range config.Providers {
		s.APIKey = os.ExpandEnv(s.APIKey)
		config.Providers[p] = s
	}

	return config, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8002"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 50
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Providers == nil {
		c.Providers = make(map[models.ProviderType]llm.ProviderSettings)
	}
	for _, p := range models.ProviderTypes {
		s := c.Providers[p]
		if s.BaseURL == "" && p != models.ProviderGemini {
			s.BaseURL = openai.DefaultBaseURLs[string(p)]
		}
		if s.DefaultModel == "" {
			if p == models.ProviderGemini {
				s.DefaultModel = gemini.DefaultModel
			} else {
				s.DefaultModel = openai.DefaultModels[string(p)]
			}
		}
		if s.MaxTokens == 0 {
			s.MaxTokens = 10
		}
		if s.Timeout == 0 {
			s.Timeout = 30 * time.Second
		}
		if s.APIKey == "" {
			s.APIKey = defaultKeyEnv[p]
		}
		c.Providers[p] = s
	}

	def := llm.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = def.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}

	if c.Dispatch.Provider == "" {
		c.Dispatch.Provider = models.ProviderOpenAI
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 5
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./data/runs.db"
	}
	if c.Storage.ProjectsDir == "" {
		c.Storage.ProjectsDir = "./projects"
	}
}

// Validate rejects values no component can work with
func (c *Config) Validate() error {
	for p := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q in config", p)
		}
	}
	if !c.Dispatch.Provider.Valid() {
		return fmt.Errorf("unknown default provider %q", c.Dispatch.Provider)
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.Workers > 20 {
		return fmt.Errorf("dispatch workers must be between 1 and 20, got %d", c.Dispatch.Workers)
	}
	if c.Dispatch.RowLimit < 0 {
		return fmt.Errorf("dispatch row_limit must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be positive")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
