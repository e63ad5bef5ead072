package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/api"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/api/middleware"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/config"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/ingest"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/reconciler"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: cfg.Logging.ServiceName,
		LogFile:     cfg.Logging.File,
		LogFileOnly: cfg.Logging.FileOnly,
	})
	logger.SetDefault(appLogger)

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	trackingRepo := repository.NewTrackingRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	traceRepo := repository.NewTraceRepository(db)

	// Initialize storage for source object checks
	var objectStorage storage.ObjectStorage
	if cfg.Storage.Bucket != "" {
		objectStorage, err = storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
	}

	// Register one remote executor per stage task
	registry := executor.NewRegistry()
	registerExecutors(registry, &cfg.Executors)

	// Progress updates flow through the tracking store like any other write
	var progress pipeline.ProgressSink
	if cfg.Pipeline.ProgressReporting {
		progress = reconciler.NewProgressTracker(trackingRepo, appLogger)
	}

	def := pipeline.TranscriptPipeline()
	def.SetFanOutConcurrency(cfg.Pipeline.FanOutConcurrency)

	engine := pipeline.NewEngine(
		def,
		registry,
		execRepo,
		traceRepo,
		&pipeline.Options{
			Deadline:    cfg.Pipeline.Deadline,
			EventBuffer: cfg.Pipeline.TerminalBufferSize,
			Progress:    progress,
			Logger:      appLogger,
		},
	)

	rec := reconciler.New(trackingRepo, traceRepo, cfg.Pipeline.TraceScanLimit, appLogger)
	engine.Subscribe(rec.Handle)

	trigger := ingest.NewTrigger(engine, trackingRepo, objectStorage, appLogger)

	router := api.SetupRouter(&api.RouterConfig{
		Mode: cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Trigger:  trigger,
		Engine:   engine,
		Tracking: trackingRepo,
		Execs:    execRepo,
		Trace:    traceRepo,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Server failed")
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain executions
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server shutdown failed")
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Engine did not drain before timeout")
	}
	appLogger.Info("Shutdown complete")
}

// registerExecutors binds the processing services to the pipeline's task
// names. The transcription service also serves the split and aggregate tasks;
// it routes on the payload shape.
func registerExecutors(registry *executor.Registry, cfg *config.ExecutorsConfig) {
	timeout := cfg.RequestTimeout

	registry.Register(pipeline.TaskExtractAudio, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.AudioServiceURL + "/v1/extract",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
	registry.Register(pipeline.TaskDiarize, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.DiarizationURL + "/v1/diarize",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
	registry.Register(pipeline.TaskSplitBySpeaker, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.TranscriptionURL + "/v1/split",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
	registry.Register(pipeline.TaskTranscribe, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.TranscriptionURL + "/v1/transcribe",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
	registry.Register(pipeline.TaskAggregateResults, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.TranscriptionURL + "/v1/aggregate",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
	registry.Register(pipeline.TaskLLMAnalysis, executor.NewRemoteExecutor(&executor.RemoteConfig{
		Endpoint: cfg.LLMGatewayURL + "/v1/analyze",
		APIKey:   cfg.APIKey,
		Timeout:  timeout,
	}))
}
