package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// TrackingUpdate is a partial tracking-record update applied by upsert.
// Nil fields are left untouched.
type TrackingUpdate struct {
	Status       *domain.JobStatus
	Progress     *int
	CurrentStep  *string
	ErrorMessage *string
}

// TrackingRepository handles tracking-record persistence.
type TrackingRepository struct {
	db *gorm.DB
}

// NewTrackingRepository creates a new TrackingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TrackingRepository: repository instance bound to db.
func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// Create inserts the initial tracking record for a job. Conflicting job IDs
// overwrite the existing row; the trigger generates fresh IDs so this only
// happens on notification redelivery.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: tracking record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *TrackingRepository) Create(ctx context.Context, rec *domain.TrackingRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		UpdateAll: true,
	}).Create(rec).Error
}

// Upsert applies a partial update to the record keyed by jobID. The row is
// created if missing so a terminal event can never be lost to a race with the
// trigger's initial write. UpdatedAt is always rewritten.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job key.
//   - upd: partial update; nil fields untouched.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *TrackingRepository) Upsert(ctx context.Context, jobID string, upd *TrackingUpdate) error {
	values := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if upd.Status != nil {
		values["status"] = *upd.Status
	}
	if upd.Progress != nil {
		values["progress"] = *upd.Progress
	}
	if upd.CurrentStep != nil {
		values["current_step"] = *upd.CurrentStep
	}
	if upd.ErrorMessage != nil {
		values["error_message"] = *upd.ErrorMessage
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.TrackingRecord{}).Where("job_id = ?", jobID).Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		rec := &domain.TrackingRecord{JobID: jobID}
		applyUpdate(rec, upd)
		return tx.Create(rec).Error
	})
}

func applyUpdate(rec *domain.TrackingRecord, upd *TrackingUpdate) {
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.Progress != nil {
		rec.Progress = *upd.Progress
	}
	if upd.CurrentStep != nil {
		rec.CurrentStep = *upd.CurrentStep
	}
	if upd.ErrorMessage != nil {
		rec.ErrorMessage = upd.ErrorMessage
	}
}

// Get retrieves a tracking record by job ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job key.
// Returns:
//   - *domain.TrackingRecord: record if found.
//   - error: ErrNotFound if missing, other errors on query failure.
func (r *TrackingRepository) Get(ctx context.Context, jobID string) (*domain.TrackingRecord, error) {
	var rec domain.TrackingRecord
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List retrieves tracking records ordered by creation time, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: optional status filter; empty means all.
//   - limit, offset: pagination.
// Returns:
//   - []domain.TrackingRecord: matching records.
//   - error: non-nil on query failure.
func (r *TrackingRepository) List(ctx context.Context, status domain.JobStatus, limit, offset int) ([]domain.TrackingRecord, error) {
	q := r.db.WithContext(ctx).Model(&domain.TrackingRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var recs []domain.TrackingRecord
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	return recs, err
}
