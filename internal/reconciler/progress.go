package reconciler

import (
	"context"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
)

// ProgressTracker mirrors engine stage transitions into the tracking record.
// Implements pipeline.ProgressSink.
type ProgressTracker struct {
	tracking TrackingStore
	log      *logger.Logger
}

// NewProgressTracker creates a progress tracker.
func NewProgressTracker(tracking TrackingStore, log *logger.Logger) *ProgressTracker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ProgressTracker{
		tracking: tracking,
		log:      log.WithField(logger.FieldComponent, "progress"),
	}
}

// StageEntered moves the record to processing with the stage name and a
// stage-proportional progress value. Failures are logged and swallowed;
// progress reporting must never stall the pipeline.
func (p *ProgressTracker) StageEntered(ctx context.Context, jobID, stage string, progress int) {
	status := domain.JobStatusProcessing
	if err := p.tracking.Upsert(ctx, jobID, &repository.TrackingUpdate{
		Status:      &status,
		Progress:    &progress,
		CurrentStep: &stage,
	}); err != nil {
		p.log.WithFields(logger.Fields{
			logger.FieldJobID: jobID,
			logger.FieldStage: stage,
		}).WithError(err).Warn("Failed to record progress")
	}
}
