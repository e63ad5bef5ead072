// Package ingest turns upload notifications into pipeline executions. It is
// the only writer of the initial "pending" tracking record; everything after
// that belongs to the engine and the reconciler.
package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/storage"
	"github.com/google/uuid"
)

// Notification is one upload event record.
type Notification struct {
	Bucket     string `json:"bucket"`
	ObjectKey  string `json:"object_key"`
	ObjectSize int64  `json:"object_size"`
}

// supportedExtensions lists the media container formats the pipeline accepts.
var supportedExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".webm": {},
	".mkv":  {},
}

// RecordStatus is the per-record processing outcome.
type RecordStatus string

const (
	RecordStarted RecordStatus = "started"
	RecordSkipped RecordStatus = "skipped"
	RecordFailed  RecordStatus = "failed"
)

// RecordResult reports what happened to one notification record.
type RecordResult struct {
	ObjectKey   string       `json:"object_key"`
	Status      RecordStatus `json:"status"`
	JobID       string       `json:"job_id,omitempty"`
	ExecutionID string       `json:"execution_id,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// Result aggregates per-record outcomes for one notification batch.
type Result struct {
	Records []RecordResult `json:"records"`
	Started int            `json:"started"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Message string         `json:"message"`
}

// TrackingStore seeds the pending record. *repository.TrackingRepository
// satisfies it.
type TrackingStore interface {
	Create(ctx context.Context, rec *domain.TrackingRecord) error
}

// Starter starts one execution. *pipeline.Engine satisfies it.
type Starter interface {
	Start(ctx context.Context, name string, input pipeline.Payload) (string, error)
}

// Trigger converts accepted upload notifications into executions.
type Trigger struct {
	engine   Starter
	tracking TrackingStore
	storage  storage.ObjectStorage // optional source existence check
	log      *logger.Logger
}

// NewTrigger creates an ingest trigger. objectStorage may be nil to skip the
// source existence check.
func NewTrigger(engine Starter, tracking TrackingStore, objectStorage storage.ObjectStorage, log *logger.Logger) *Trigger {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Trigger{
		engine:   engine,
		tracking: tracking,
		storage:  objectStorage,
		log:      log.WithField(logger.FieldComponent, "ingest"),
	}
}

// Handle processes one notification batch. Every record gets exactly one
// outcome; unsupported content types are skipped without starting anything.
func (t *Trigger) Handle(ctx context.Context, notifications []Notification) *Result {
	result := &Result{Records: make([]RecordResult, 0, len(notifications))}

	for _, n := range notifications {
		rec := t.handleOne(ctx, &n)
		result.Records = append(result.Records, rec)
		switch rec.Status {
		case RecordStarted:
			result.Started++
		case RecordSkipped:
			result.Skipped++
		case RecordFailed:
			result.Failed++
		}
	}

	switch {
	case len(notifications) == 0:
		result.Message = "no records submitted"
	case result.Skipped == len(notifications):
		result.Message = "all records skipped"
	default:
		result.Message = fmt.Sprintf("%d started, %d skipped, %d failed",
			result.Started, result.Skipped, result.Failed)
	}
	return result
}

func (t *Trigger) handleOne(ctx context.Context, n *Notification) RecordResult {
	if !SupportedMedia(n.ObjectKey) {
		t.log.WithField("object_key", n.ObjectKey).Info("Skipping unsupported content type")
		return RecordResult{ObjectKey: n.ObjectKey, Status: RecordSkipped, Reason: "unsupported content type"}
	}

	if t.storage != nil {
		exists, err := t.storage.Exists(ctx, n.ObjectKey)
		if err != nil {
			return RecordResult{ObjectKey: n.ObjectKey, Status: RecordFailed,
				Reason: fmt.Sprintf("source check failed: %v", err)}
		}
		if !exists {
			return RecordResult{ObjectKey: n.ObjectKey, Status: RecordFailed,
				Reason: "source object not found"}
		}
	}

	meta := ParseObjectKey(n.ObjectKey)
	jobID := uuid.New().String()
	now := time.Now()

	record := &domain.TrackingRecord{
		JobID:             jobID,
		Status:            domain.JobStatusPending,
		Progress:          0,
		CurrentStep:       "pending",
		SourceBucket:      n.Bucket,
		SourceKey:         n.ObjectKey,
		OwnerID:           meta.OwnerID,
		ClassificationTag: meta.ClassificationTag,
		OriginalFilename:  meta.Filename,
		SizeBytes:         n.ObjectSize,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := t.tracking.Create(ctx, record); err != nil {
		return RecordResult{ObjectKey: n.ObjectKey, Status: RecordFailed,
			Reason: fmt.Sprintf("failed to seed tracking record: %v", err)}
	}

	payload := pipeline.Payload{
		pipeline.KeyJobID:    jobID,
		pipeline.KeyBucket:   n.Bucket,
		"key":                n.ObjectKey,
		"source_ref":         fmt.Sprintf("s3://%s/%s", n.Bucket, n.ObjectKey),
		"owner_id":           meta.OwnerID,
		"classification_tag": meta.ClassificationTag,
		"filename":           meta.Filename,
		"size_bytes":         n.ObjectSize,
		"created_at":         now.UTC().Format(time.RFC3339),
	}

	execID, err := t.engine.Start(ctx, ExecutionName(jobID), payload)
	if err != nil {
		return RecordResult{ObjectKey: n.ObjectKey, Status: RecordFailed, JobID: jobID,
			Reason: fmt.Sprintf("failed to start execution: %v", err)}
	}

	t.log.WithFields(logger.Fields{
		logger.FieldJobID:       jobID,
		logger.FieldExecutionID: execID,
		"object_key":            n.ObjectKey,
	}).Info("Execution started for upload")

	return RecordResult{ObjectKey: n.ObjectKey, Status: RecordStarted, JobID: jobID, ExecutionID: execID}
}

// SupportedMedia reports whether the object name carries an accepted media
// extension, case-insensitively.
func SupportedMedia(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	_, ok := supportedExtensions[ext]
	return ok
}

// ExecutionName derives the deterministic execution name for a job. Fresh job
// IDs make this collision-free; a redelivered notification for the same
// generated ID cannot start a second concurrent run.
func ExecutionName(jobID string) string {
	return "transcript-" + jobID
}

// ObjectMeta is the metadata parsed out of an upload key.
type ObjectMeta struct {
	OwnerID           string
	Date              string
	ClassificationTag string
	Filename          string
}

// ParseObjectKey parses the fixed upload key convention
// uploads/{owner}/{date}/{tag}/{name...}. Keys with fewer segments fall back
// to unknown owner and tag with today's date.
func ParseObjectKey(key string) ObjectMeta {
	segments := strings.Split(strings.Trim(key, "/"), "/")
	if len(segments) >= 5 && segments[0] == "uploads" {
		return ObjectMeta{
			OwnerID:           segments[1],
			Date:              segments[2],
			ClassificationTag: segments[3],
			Filename:          strings.Join(segments[4:], "/"),
		}
	}
	return ObjectMeta{
		OwnerID:           "unknown",
		Date:              time.Now().Format("2006-01-02"),
		ClassificationTag: "unknown",
		Filename:          path.Base(key),
	}
}
