package models

// Project is a saved prompt/provider configuration.
// It never carries the API key.
type Project struct {
	Name     string       `json:"name"`
	Brand    string       `json:"brand,omitempty"`
	Prompt   PromptSpec   `json:"prompt"`
	Provider ProviderType `json:"provider"`
	Model    string       `json:"model"`
}
