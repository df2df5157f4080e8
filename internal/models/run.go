package models

import "time"

// RunStatus is the lifecycle state of a dispatch run
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
)

// Run is the history record of one dispatch over a dataset snapshot
type Run struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	Project        string     `json:"project,omitempty" db:"project"`
	Provider       string     `json:"provider" db:"provider"`
	Model          string     `json:"model" db:"model"`
	Workers        int        `json:"workers" db:"workers"`
	Status         RunStatus  `json:"status" db:"status"`
	TotalCount     int        `json:"total_count" db:"total_count"`
	ProcessedCount int        `json:"processed_count" db:"processed_count"`
	FailedCount    int        `json:"failed_count" db:"failed_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
}

// Progress returns the completed fraction of the run in [0, 1]
func (r *Run) Progress() float64 {
	if r.TotalCount == 0 {
		if r.Status == RunCompleted {
			return 1
		}
		return 0
	}
	return float64(r.ProcessedCount) / float64(r.TotalCount)
}

// RunLabel is one stored label of a finished run
type RunLabel struct {
	RunID    string `json:"run_id" db:"run_id"`
	RowIndex int    `json:"row_index" db:"row_index"`
	Label    string `json:"label" db:"label"`
}
