package handler

import (
	"labeling-service/internal/models"
	"labeling-service/internal/results"
)

// ColumnRequest selects the analysis column
type ColumnRequest struct {
	Column string `json:"column" binding:"required"`
}

// ProviderRequest selects the provider, model and key of a session
type ProviderRequest struct {
	Provider models.ProviderType `json:"provider" binding:"required"`
	Model    string              `json:"model"`
	APIKey   string              `json:"api_key"`
}

// StartRunRequest starts a dispatch over the session dataset
type StartRunRequest struct {
	Workers int    `json:"workers"`
	Limit   int    `json:"limit"`
	SaveAs  string `json:"save_as"`
	Brand   string `json:"brand"`
}

// EditRequest carries the rows of an edited view.
// ViewIndices lists every row the view showed before editing.
type EditRequest struct {
	Rows        []results.Row `json:"rows"`
	ViewIndices []int         `json:"view_indices"`
}

// ProjectRequest saves a project from a session or from the given fields
type ProjectRequest struct {
	Name      string              `json:"name" binding:"required"`
	Brand     string              `json:"brand"`
	SessionID string              `json:"session_id"`
	Prompt    models.PromptSpec   `json:"prompt"`
	Provider  models.ProviderType `json:"provider"`
	Model     string              `json:"model"`
}
