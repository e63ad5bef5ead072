package domain

import "time"

// ExecutionStatus represents the lifecycle state of one pipeline execution.
// Terminal once it leaves ExecutionRunning.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// Terminal reports whether the status is a terminal one.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning && s != ""
}

// Execution is one run of the pipeline against one job.
type Execution struct {
	ID           string          `gorm:"type:text;primaryKey" json:"id"`
	Name         string          `gorm:"type:text;uniqueIndex;not null" json:"name"`
	JobID        string          `gorm:"type:text;index" json:"job_id"`
	Status       ExecutionStatus `gorm:"default:RUNNING;index" json:"status"`
	CurrentStage string          `json:"current_stage"`
	InputPayload string          `gorm:"type:text" json:"input_payload"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Execution.
func (Execution) TableName() string {
	return "executions"
}
