package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
	"github.com/gin-gonic/gin"
)

// JobHandler exposes tracking records for the dashboard.
type JobHandler struct {
	tracking *repository.TrackingRepository
	execs    *repository.ExecutionRepository
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - tracking: tracking record repository.
//   - execs: execution repository.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(tracking *repository.TrackingRepository, execs *repository.ExecutionRepository) *JobHandler {
	return &JobHandler{tracking: tracking, execs: execs}
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	status := domain.JobStatus(c.Query("status"))

	jobs, err := h.tracking.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.tracking.Get(c.Request.Context(), jobID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	executions, err := h.execs.ListByJob(c.Request.Context(), jobID, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list executions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":        job,
		"executions": executions,
	})
}
