package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"labeling-service/internal/llmerr"

	"go.uber.org/zap"
)

// Default endpoints of the OpenAI-compatible providers
var DefaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// Default models of the OpenAI-compatible providers
var DefaultModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"groq":       "llama-3.3-70b-versatile",
	"openrouter": "meta-llama/llama-3.2-3b-instruct:free",
}

const maxResponseBytes = 1 << 20

// Client talks to any chat/completions endpoint that speaks the OpenAI wire format
type Client struct {
	provider   string
	apiKey     string
	baseURL    string
	modelName  string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// Config for the OpenAI-compatible client
type Config struct {
	Provider  string // "openai", "groq" or "openrouter"
	APIKey    string
	BaseURL   string
	ModelName string
	MaxTokens int // Default: 10, the label is a single character
	Timeout   time.Duration
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	if cfg.APIKey == "" {
		return nil, llmerr.New(cfg.Provider, llmerr.Fatal, "API key is required")
	}

	if cfg.BaseURL == "" {
		base, ok := DefaultBaseURLs[cfg.Provider]
		if !ok {
			return nil, llmerr.New(cfg.Provider, llmerr.Fatal, "base URL is required")
		}
		cfg.BaseURL = base
	}

	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModels[cfg.Provider]
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 10
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.ModelName),
		zap.String("base_url", cfg.BaseURL))

	return &Client{
		provider:   cfg.Provider,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelName:  cfg.ModelName,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Close releases client resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Complete sends prompt as a single user message and returns the trimmed completion
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.modelName,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", llmerr.New(c.provider, llmerr.Fatal, fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", llmerr.New(c.provider, llmerr.Fatal, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Chat completions transport error",
			zap.String("provider", c.provider),
			zap.Error(err))
		return "", llmerr.Wrap(c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", llmerr.Wrap(c.provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := errorMessage(body)
		c.logger.Debug("Chat completions API error",
			zap.String("provider", c.provider),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return "", llmerr.FromStatus(c.provider, resp.StatusCode, msg)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", llmerr.New(c.provider, llmerr.Transient, fmt.Sprintf("failed to parse response: %v", err))
	}

	if chatResp.Error != nil {
		return "", llmerr.New(c.provider, llmerr.Transient, chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", llmerr.New(c.provider, llmerr.Transient, "empty response")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   c.provider,
		"model":      c.modelName,
		"max_tokens": c.maxTokens,
		"base_url":   c.baseURL,
	}
}

// errorMessage extracts error.message from an error body, falling back to the raw text
func errorMessage(body []byte) string {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil && resp.Error.Message != "" {
		return resp.Error.Message
	}
	return strings.TrimSpace(string(body))
}
