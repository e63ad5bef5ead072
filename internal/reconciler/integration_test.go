package reconciler

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memExecStore is a minimal in-memory pipeline.ExecutionStore.
type memExecStore struct {
	mu    sync.Mutex
	execs map[string]*domain.Execution
}

func (s *memExecStore) Create(ctx context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execs == nil {
		s.execs = make(map[string]*domain.Execution)
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *memExecStore) SetCurrentStage(ctx context.Context, id, stage string) error { return nil }

func (s *memExecStore) Finish(ctx context.Context, id string, status domain.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[id]; ok {
		e.Status = status
	}
	return nil
}

// memTraceStore is both the engine's TraceSink and the reconciler's
// TraceFetcher, like the real trace repository.
type memTraceStore struct {
	mu     sync.Mutex
	events []domain.TraceEvent
}

func (t *memTraceStore) Append(ctx context.Context, ev *domain.TraceEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, *ev)
	return nil
}

func (t *memTraceStore) Recent(ctx context.Context, executionID string, limit int) ([]domain.TraceEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.TraceEvent
	for _, ev := range t.events {
		if ev.ExecutionID == executionID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fastPipeline mirrors the transcript pipeline's shape with millisecond
// retry intervals.
func fastPipeline() pipeline.Definition {
	quick := pipeline.RetryPolicy{MaxAttempts: 2, BaseInterval: time.Millisecond, BackoffRate: 2.0}
	return pipeline.Definition{
		Name: "fast-transcript",
		Stages: []pipeline.Stage{
			{Name: "split_by_speaker", Task: pipeline.TaskSplitBySpeaker, Retry: quick},
			{
				Name: "transcribe_segments",
				FanOut: &pipeline.FanOut{
					ItemsPath:   pipeline.KeySegments,
					ContextKeys: []string{pipeline.KeyJobID},
					ResultKey:   pipeline.KeyResults,
					Concurrency: 4,
					Item: pipeline.Stage{
						Name:  "transcribe",
						Task:  pipeline.TaskTranscribe,
						Retry: quick,
					},
				},
			},
			{Name: "aggregate_results", Task: pipeline.TaskAggregateResults, Retry: quick},
		},
		Deadline: time.Minute,
	}
}

// runToTerminal wires engine -> reconciler -> tracking and runs one job.
func runToTerminal(t *testing.T, registry *executor.Registry, tracking *memTracking, jobID string) {
	t.Helper()
	store := &memExecStore{}
	trace := &memTraceStore{}

	e := pipeline.NewEngine(fastPipeline(), registry, store, trace, &pipeline.Options{
		Progress: NewProgressTracker(tracking, nil),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})

	rec := New(tracking, trace, 0, nil)
	done := make(chan struct{}, 1)
	e.Subscribe(rec.Handle)
	e.Subscribe(func(ctx context.Context, ev pipeline.TerminalEvent) { done <- struct{}{} })

	_, err := e.Start(context.Background(), "transcript-"+jobID, pipeline.Payload{
		pipeline.KeyJobID: jobID,
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not reach a terminal state")
	}
}

func splitExecutor(segments int) executor.Executor {
	return executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		items := make([]interface{}, segments)
		for i := range items {
			items[i] = map[string]interface{}{"idx": i}
		}
		return map[string]interface{}{
			pipeline.KeyJobID:    input[pipeline.KeyJobID],
			pipeline.KeySegments: items,
		}, nil
	})
}

func TestEngineAndReconcilerCompleteJob(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(pipeline.TaskSplitBySpeaker, splitExecutor(3))
	registry.Register(pipeline.TaskTranscribe, executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"text": "ok"}, nil
	}))
	registry.Register(pipeline.TaskAggregateResults, executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"transcript": "done"}, nil
	}))

	tracking := newMemTracking()
	runToTerminal(t, registry, tracking, "job-e2e-ok")

	row := tracking.get("job-e2e-ok")
	require.NotNil(t, row)
	assert.Equal(t, domain.JobStatusCompleted, row.Status)
	assert.Equal(t, 100, row.Progress)
	assert.Equal(t, "completed", row.CurrentStep)
	assert.Empty(t, row.ErrorMessage)
}

func TestEngineAndReconcilerRecordFanOutFailure(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(pipeline.TaskSplitBySpeaker, splitExecutor(3))
	registry.Register(pipeline.TaskTranscribe, executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		if idx, _ := input["idx"].(int); idx == 1 {
			return nil, executor.NewError("HTTP_503", "transcription unavailable", "upstream overloaded")
		}
		return map[string]interface{}{"text": "ok"}, nil
	}))
	registry.Register(pipeline.TaskAggregateResults, executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		t.Error("aggregation must not run after a fan-out failure")
		return nil, nil
	}))

	tracking := newMemTracking()
	runToTerminal(t, registry, tracking, "job-e2e-fail")

	row := tracking.get("job-e2e-fail")
	require.NotNil(t, row)
	assert.Equal(t, domain.JobStatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "Task error")
	assert.Contains(t, row.ErrorMessage, "transcription unavailable")
}

func TestEngineAndReconcilerRecordExecutorFailure(t *testing.T) {
	registry := executor.NewRegistry()
	registry.Register(pipeline.TaskSplitBySpeaker, executor.Func(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		return nil, executor.NewPermanentError("HTTP_422", "unsupported codec", "vp9 profile 3")
	}))

	tracking := newMemTracking()
	runToTerminal(t, registry, tracking, "job-e2e-lambda")

	row := tracking.get("job-e2e-lambda")
	require.NotNil(t, row)
	assert.Equal(t, domain.JobStatusFailed, row.Status)
	assert.Equal(t, "Lambda error: HTTP_422 - unsupported codec: vp9 profile 3", row.ErrorMessage)
}
