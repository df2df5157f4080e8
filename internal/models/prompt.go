package models

import "strings"

// PromptSpec holds the four blocks of a classification prompt.
// All of them are copied verbatim into every request.
type PromptSpec struct {
	Role         string `json:"role" yaml:"role"`
	Include      string `json:"include" yaml:"include"`
	Exclude      string `json:"exclude" yaml:"exclude"`
	OutputFormat string `json:"output_format" yaml:"output_format"`
}

// IsEmpty reports whether no block has any content
func (p PromptSpec) IsEmpty() bool {
	return strings.TrimSpace(p.Role+p.Include+p.Exclude+p.OutputFormat) == ""
}

// ProviderType names a supported LLM provider
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
)

// ProviderTypes lists every supported provider
var ProviderTypes = []ProviderType{ProviderOpenAI, ProviderGemini, ProviderGroq, ProviderOpenRouter}

// Valid reports whether p is a supported provider
func (p ProviderType) Valid() bool {
	for _, t := range ProviderTypes {
		if t == p {
			return true
		}
	}
	return false
}

// ProviderConfig selects the provider and model for a run.
// APIKey is a secret: it is never serialized, logged, or persisted.
type ProviderConfig struct {
	Provider ProviderType `json:"provider"`
	Model    string       `json:"model"`
	APIKey   string       `json:"-"`
}
