package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"gorm.io/gorm"
)

// ErrExecutionExists is returned when an execution name is already taken by a
// non-terminal run.
var ErrExecutionExists = errors.New("execution name already in use")

// ExecutionRepository persists execution records.
type ExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a new execution row. The unique index on name guarantees a
// given execution name is never running twice; a conflict maps to
// ErrExecutionExists.
func (r *ExecutionRepository) Create(ctx context.Context, exec *domain.Execution) error {
	err := r.db.WithContext(ctx).Create(exec).Error
	if err != nil && isUniqueViolation(err) {
		return ErrExecutionExists
	}
	return err
}

// isUniqueViolation matches unique-constraint errors across sqlite and postgres.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// Get retrieves an execution by ID.
func (r *ExecutionRepository) Get(ctx context.Context, id string) (*domain.Execution, error) {
	var exec domain.Execution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// SetCurrentStage records the stage last entered by a running execution.
func (r *ExecutionRepository) SetCurrentStage(ctx context.Context, id, stage string) error {
	return r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"current_stage": stage, "updated_at": time.Now()}).Error
}

// Finish marks an execution terminal. The status guard keeps the first
// terminal transition authoritative if two writers race.
func (r *ExecutionRepository) Finish(ctx context.Context, id string, status domain.ExecutionStatus) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": &now,
			"updated_at":  now,
		}).Error
}

// ListByJob retrieves executions for one job, newest first.
func (r *ExecutionRepository) ListByJob(ctx context.Context, jobID string, limit int) ([]domain.Execution, error) {
	var execs []domain.Execution
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).
		Order("started_at DESC").Limit(limit).Find(&execs).Error
	return execs, err
}
