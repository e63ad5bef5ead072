package repository

import (
	"context"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"gorm.io/gorm"
)

// TraceRepository persists the append-only execution trace.
type TraceRepository struct {
	db *gorm.DB
}

// NewTraceRepository creates a new TraceRepository.
func NewTraceRepository(db *gorm.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

// Append stores one trace event.
func (r *TraceRepository) Append(ctx context.Context, ev *domain.TraceEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// Recent returns up to limit events for an execution, newest first.
func (r *TraceRepository) Recent(ctx context.Context, executionID string, limit int) ([]domain.TraceEvent, error) {
	var events []domain.TraceEvent
	err := r.db.WithContext(ctx).Where("execution_id = ?", executionID).
		Order("seq DESC").Limit(limit).Find(&events).Error
	return events, err
}
