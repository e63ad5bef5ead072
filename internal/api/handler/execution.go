package handler

import (
	"errors"
	"net/http"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
	"github.com/gin-gonic/gin"
)

// ExecutionHandler exposes execution records and the abort operation.
type ExecutionHandler struct {
	execs  *repository.ExecutionRepository
	trace  *repository.TraceRepository
	engine *pipeline.Engine
}

// NewExecutionHandler creates a new execution handler.
// Parameters:
//   - execs: execution repository.
//   - trace: trace event repository.
//   - engine: pipeline engine for abort.
// Returns:
//   - *ExecutionHandler: initialized handler.
func NewExecutionHandler(execs *repository.ExecutionRepository, trace *repository.TraceRepository, engine *pipeline.Engine) *ExecutionHandler {
	return &ExecutionHandler{execs: execs, trace: trace, engine: engine}
}

// GetExecution handles GET /api/v1/executions/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id := c.Param("id")

	exec, err := h.execs.Get(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get execution"})
		return
	}

	events, err := h.trace.Recent(c.Request.Context(), id, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch trace"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution": exec,
		"trace":     events,
	})
}

// AbortExecution handles POST /api/v1/executions/:id/abort.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ExecutionHandler) AbortExecution(c *gin.Context) {
	id := c.Param("id")

	if err := h.engine.Abort(id); err != nil {
		if errors.Is(err, pipeline.ErrUnknownExecution) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active execution with that id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to abort execution"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "abort requested"})
}
