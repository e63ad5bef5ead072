package api

import (
	"github.com/ekusiadadus/ek-transcript-sub000/internal/api/handler"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/api/middleware"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/ingest"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
	"github.com/gin-gonic/gin"
)

// RouterConfig bundles the dependencies the HTTP surface needs.
type RouterConfig struct {
	Mode     string
	CORS     middleware.CORSConfig
	Trigger  *ingest.Trigger
	Engine   *pipeline.Engine
	Tracking *repository.TrackingRepository
	Execs    *repository.ExecutionRepository
	Trace    *repository.TraceRepository
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler()
	notificationHandler := handler.NewNotificationHandler(cfg.Trigger)
	jobHandler := handler.NewJobHandler(cfg.Tracking, cfg.Execs)
	executionHandler := handler.NewExecutionHandler(cfg.Execs, cfg.Trace, cfg.Engine)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Upload notifications
		v1.POST("/notifications", notificationHandler.Submit)

		// Jobs
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)

		// Executions
		v1.GET("/executions/:id", executionHandler.GetExecution)
		v1.POST("/executions/:id/abort", executionHandler.AbortExecution)
	}

	return r
}
