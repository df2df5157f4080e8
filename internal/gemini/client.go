package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"labeling-service/internal/llmerr"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const providerName = "gemini"

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-1.5-flash"

// Client wraps the Gemini API client
type Client struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	logger    *zap.Logger
	modelName string
	maxTokens int32
	timeout   time.Duration
}

// Config for Gemini client
type Config struct {
	APIKey    string
	ModelName string        // Default: "gemini-1.5-flash"
	MaxTokens int32         // Default: 10
	Endpoint  string        // Optional API endpoint override
	Timeout   time.Duration // Per request; default: 30s
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, llmerr.New(providerName, llmerr.Fatal, "API key is required")
	}

	if cfg.ModelName == "" {
		cfg.ModelName = DefaultModel
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 10
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, classify(err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.GenerationConfig = genai.GenerationConfig{
		CandidateCount:  genai.Ptr[int32](1),
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: genai.Ptr(cfg.MaxTokens),
	}

	logger.Info("Gemini client initialized",
		zap.String("model", cfg.ModelName),
		zap.Int32("max_tokens", cfg.MaxTokens))

	return &Client{
		client:    client,
		model:     model,
		logger:    logger,
		modelName: cfg.ModelName,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}, nil
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// Complete sends prompt and returns the trimmed text of the first candidate
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.logger.Debug("Gemini API error", zap.Error(err))
		return "", classify(err)
	}

	text, ok := responseText(resp)
	if !ok {
		return "", llmerr.New(providerName, llmerr.Transient, "empty response")
	}

	return text, nil
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":   providerName,
		"model":      c.modelName,
		"max_tokens": c.maxTokens,
	}
}

func responseText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}

	var b strings.Builder
	found := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
			found = true
		}
	}

	return strings.TrimSpace(b.String()), found
}

// classify maps SDK errors onto transient and fatal provider errors
func classify(err error) *llmerr.ProviderError {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &llmerr.ProviderError{Kind: llmerr.Fatal, Provider: providerName, Message: "response blocked", Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pe := llmerr.FromStatus(providerName, apiErr.Code, apiErr.Message)
		pe.Err = err
		return pe
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return &llmerr.ProviderError{
			Kind:     kindForCode(st.Code()),
			Provider: providerName,
			Message:  st.Message(),
			Err:      err,
		}
	}

	return llmerr.Wrap(providerName, err)
}

func kindForCode(code codes.Code) llmerr.Kind {
	switch code {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return llmerr.Transient
	case codes.Canceled, codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied,
		codes.NotFound, codes.FailedPrecondition, codes.Unimplemented:
		return llmerr.Fatal
	default:
		return llmerr.Transient
	}
}
