// Package reconciler converts terminal execution events into idempotent
// tracking-record updates, including best-effort extraction of a readable
// failure cause from the execution trace.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
)

// Fixed messages for the two failure variants whose cause is already known.
const (
	msgTimedOut       = "Execution timed out"
	msgAborted        = "Execution was aborted"
	msgTraceUnfetched = "Failed to retrieve error details"
)

// DefaultTraceScanLimit bounds how many recent trace events are scanned for a
// failure cause.
const DefaultTraceScanLimit = 10

// TrackingStore applies key-scoped upserts. *repository.TrackingRepository
// satisfies it.
type TrackingStore interface {
	Upsert(ctx context.Context, jobID string, upd *repository.TrackingUpdate) error
}

// TraceFetcher reads recent trace events, newest first.
// *repository.TraceRepository satisfies it.
type TraceFetcher interface {
	Recent(ctx context.Context, executionID string, limit int) ([]domain.TraceEvent, error)
}

// Reconciler handles terminal execution events. Handle is idempotent:
// redelivery of the same event rewrites the same record state.
type Reconciler struct {
	tracking  TrackingStore
	trace     TraceFetcher
	scanLimit int
	log       *logger.Logger
}

// New creates a reconciler. scanLimit <= 0 uses DefaultTraceScanLimit.
func New(tracking TrackingStore, trace TraceFetcher, scanLimit int, log *logger.Logger) *Reconciler {
	if scanLimit <= 0 {
		scanLimit = DefaultTraceScanLimit
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Reconciler{
		tracking:  tracking,
		trace:     trace,
		scanLimit: scanLimit,
		log:       log.WithField(logger.FieldComponent, "reconciler"),
	}
}

// Handle processes one terminal event. A payload without a resolvable job_id
// is logged and dropped; guessing a key would corrupt another job's record.
func (r *Reconciler) Handle(ctx context.Context, ev pipeline.TerminalEvent) {
	jobID, ok := extractJobID(ev.InputPayloadJSON)
	if !ok {
		r.log.WithField(logger.FieldExecutionID, ev.ExecutionID).
			Warn("Terminal event payload has no job_id, skipping tracking update")
		return
	}

	log := r.log.WithFields(logger.Fields{
		logger.FieldExecutionID: ev.ExecutionID,
		logger.FieldJobID:       jobID,
		logger.FieldStatus:      string(ev.Status),
	})

	if ev.Status == domain.ExecutionSucceeded {
		status := domain.JobStatusCompleted
		progress := 100
		step := "completed"
		if err := r.tracking.Upsert(ctx, jobID, &repository.TrackingUpdate{
			Status:      &status,
			Progress:    &progress,
			CurrentStep: &step,
		}); err != nil {
			log.WithError(err).Error("Failed to record completion")
			return
		}
		log.Info("Job completed")
		return
	}

	message := r.failureMessage(ctx, ev)
	status := domain.JobStatusFailed
	if err := r.tracking.Upsert(ctx, jobID, &repository.TrackingUpdate{
		Status:       &status,
		ErrorMessage: &message,
	}); err != nil {
		log.WithError(err).Error("Failed to record failure")
		return
	}
	log.WithField("error_message", message).Info("Job failed")
}

// failureMessage derives the human-readable error for a non-success terminal.
func (r *Reconciler) failureMessage(ctx context.Context, ev pipeline.TerminalEvent) string {
	switch ev.Status {
	case domain.ExecutionTimedOut:
		return msgTimedOut
	case domain.ExecutionAborted:
		return msgAborted
	}

	events, err := r.trace.Recent(ctx, ev.TraceRef, r.scanLimit)
	if err != nil {
		r.log.WithField(logger.FieldExecutionID, ev.ExecutionID).
			WithError(err).Warn("Failed to fetch execution trace")
		return msgTraceUnfetched
	}

	// Events arrive newest first; the first failure kind in the window wins.
	for _, tev := range events {
		switch tev.Kind {
		case domain.TraceExecutorFailed:
			return fmt.Sprintf("Lambda error: %s - %s", tev.Error, tev.Cause)
		case domain.TraceTaskFailed:
			return fmt.Sprintf("Task error: %s - %s", tev.Error, tev.Cause)
		case domain.TraceStageFailed:
			return fmt.Sprintf("%s: %s", tev.Error, tev.Cause)
		}
	}

	return "Execution " + strings.ToLower(string(ev.Status))
}

// extractJobID parses the original input payload for the job key.
func extractJobID(payloadJSON string) (string, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return "", false
	}
	jobID, ok := payload[pipeline.KeyJobID].(string)
	if !ok || jobID == "" {
		return "", false
	}
	return jobID, true
}
