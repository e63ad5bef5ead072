package domain

import "time"

// JobStatus represents the user-visible status of a tracking record.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// TrackingRecord is the durable per-job status row consumed by downstream UI.
// One row per job, keyed by JobID, upserted on every transition and never
// deleted by the orchestrator.
type TrackingRecord struct {
	JobID             string    `gorm:"type:text;primaryKey" json:"job_id"`
	Status            JobStatus `gorm:"default:pending;index" json:"status"`
	Progress          int       `gorm:"default:0" json:"progress"`
	CurrentStep       string    `json:"current_step"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	SourceBucket      string    `json:"source_bucket"`
	SourceKey         string    `json:"source_key"`
	OwnerID           string    `gorm:"index" json:"owner_id"`
	ClassificationTag string    `json:"classification_tag"`
	OriginalFilename  string    `json:"original_filename"`
	SizeBytes         int64     `json:"size_bytes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for TrackingRecord.
func (TrackingRecord) TableName() string {
	return "tracking_records"
}
