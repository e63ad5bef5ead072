package domain

import "time"

// TraceKind identifies the kind of a trace event.
type TraceKind string

const (
	TraceStageEntered   TraceKind = "stage_entered"
	TraceStageSucceeded TraceKind = "stage_succeeded"
	TraceStageRetrying  TraceKind = "stage_retrying"
	TraceStageFailed    TraceKind = "stage_failed"
	TraceExecutorFailed TraceKind = "executor_failed"
	TraceTaskFailed     TraceKind = "task_failed"
	TraceExecutionEnded TraceKind = "execution_ended"
)

// TraceEvent is one row of an execution's append-only trace. The reconciler
// reads it to surface a human-readable failure cause; the inspection API
// exposes recent rows per execution.
type TraceEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID string    `gorm:"type:text;index;not null" json:"execution_id"`
	Seq         int       `gorm:"not null" json:"seq"`
	Kind        TraceKind `gorm:"type:text;not null" json:"kind"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for TraceEvent.
func (TraceEvent) TableName() string {
	return "trace_events"
}
