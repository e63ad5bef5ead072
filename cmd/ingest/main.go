package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/config"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/ingest"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/reconciler"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/repository"
)

// manifest is the JSON file format accepted by -manifest: a list of upload
// notifications to replay through the ingest trigger.
type manifest struct {
	Records []ingest.Notification `json:"records"`
}

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "transcript-ingest",
	})
	logger.SetDefault(appLogger)

	// Parse command line flags
	manifestPath := flag.String("manifest", "", "Path to a JSON manifest of upload notifications")
	bucket := flag.String("bucket", "", "Bucket of a single object to submit")
	key := flag.String("key", "", "Key of a single object to submit")
	size := flag.Int64("size", 0, "Byte size of the single object")
	wait := flag.Duration("wait", 0, "How long to wait for started executions before exiting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	notifications, err := loadNotifications(*manifestPath, *bucket, *key, *size)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read notifications")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	trackingRepo := repository.NewTrackingRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	traceRepo := repository.NewTraceRepository(db)

	registry := executor.NewRegistry()
	registerExecutors(registry, &cfg.Executors)

	def := pipeline.TranscriptPipeline()
	def.SetFanOutConcurrency(cfg.Pipeline.FanOutConcurrency)

	engine := pipeline.NewEngine(
		def,
		registry,
		execRepo,
		traceRepo,
		&pipeline.Options{
			Deadline: cfg.Pipeline.Deadline,
			Progress: reconciler.NewProgressTracker(trackingRepo, appLogger),
			Logger:   appLogger,
		},
	)
	rec := reconciler.New(trackingRepo, traceRepo, cfg.Pipeline.TraceScanLimit, appLogger)
	engine.Subscribe(rec.Handle)

	trigger := ingest.NewTrigger(engine, trackingRepo, nil, appLogger)

	ctx := context.Background()
	result := trigger.Handle(ctx, notifications)

	appLogger.WithFields(logger.Fields{
		"started": result.Started,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	}).Info(result.Message)

	for _, r := range result.Records {
		appLogger.WithFields(logger.Fields{
			"object_key": r.ObjectKey,
			"status":     string(r.Status),
			"job_id":     r.JobID,
			"reason":     r.Reason,
		}).Info("Record outcome")
	}

	if *wait > 0 && result.Started > 0 {
		drainCtx, cancel := context.WithTimeout(ctx, *wait)
		defer cancel()
		if err := engine.Stop(drainCtx); err != nil {
			appLogger.WithError(err).Warn("Executions still running at exit")
		}
	}

	if result.Failed > 0 {
		os.Exit(1)
	}
}

func loadNotifications(manifestPath, bucket, key string, size int64) ([]ingest.Notification, error) {
	if manifestPath != "" {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, err
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m.Records, nil
	}
	if key == "" {
		return nil, nil
	}
	return []ingest.Notification{{Bucket: bucket, ObjectKey: key, ObjectSize: size}}, nil
}

// registerExecutors matches the bindings in cmd/api.
func registerExecutors(registry *executor.Registry, cfg *config.ExecutorsConfig) {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	endpoints := map[string]string{
		pipeline.TaskExtractAudio:     cfg.AudioServiceURL + "/v1/extract",
		pipeline.TaskDiarize:          cfg.DiarizationURL + "/v1/diarize",
		pipeline.TaskSplitBySpeaker:   cfg.TranscriptionURL + "/v1/split",
		pipeline.TaskTranscribe:       cfg.TranscriptionURL + "/v1/transcribe",
		pipeline.TaskAggregateResults: cfg.TranscriptionURL + "/v1/aggregate",
		pipeline.TaskLLMAnalysis:      cfg.LLMGatewayURL + "/v1/analyze",
	}
	for task, endpoint := range endpoints {
		registry.Register(task, executor.NewRemoteExecutor(&executor.RemoteConfig{
			Endpoint: endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  timeout,
		}))
	}
}
