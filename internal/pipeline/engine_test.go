package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	execpkg "github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullRegistry binds all six transcript tasks to happy-path fakes.
// split_by_speaker emits three segments for the fan-out stage to chew on.
func fullRegistry() *execpkg.Registry {
	r := execpkg.NewRegistry()
	r.Register(TaskExtractAudio, execpkg.Func(passThrough("extract_audio")))
	r.Register(TaskDiarize, execpkg.Func(passThrough("diarize")))
	r.Register(TaskSplitBySpeaker, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		return Payload{
			KeyJobID:    input[KeyJobID],
			KeyBucket:   input[KeyBucket],
			KeySegments: itemPayloads(3),
		}, nil
	}))
	r.Register(TaskTranscribe, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		return Payload{"text": fmt.Sprintf("transcript for %v", input["segment"])}, nil
	}))
	r.Register(TaskAggregateResults, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		results, _ := input[KeyResults].([]interface{})
		return Payload{
			KeyJobID:     input[KeyJobID],
			"transcript": fmt.Sprintf("%d segments", len(results)),
		}, nil
	}))
	r.Register(TaskLLMAnalysis, execpkg.Func(passThrough("llm_analysis")))
	return r
}

// startEngine builds an engine over the real transcript pipeline and captures
// its terminal events.
func startEngine(t *testing.T, registry *execpkg.Registry, opts *Options) (*Engine, *memStore, *memTrace, <-chan TerminalEvent) {
	t.Helper()
	store := newMemStore()
	trace := &memTrace{}
	e := NewEngine(TranscriptPipeline(), registry, store, trace, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})

	events := make(chan TerminalEvent, 4)
	e.Subscribe(func(ctx context.Context, ev TerminalEvent) { events <- ev })
	return e, store, trace, events
}

func waitTerminal(t *testing.T, events <-chan TerminalEvent) TerminalEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return TerminalEvent{}
	}
}

func TestEngineRunsAllStagesToSuccess(t *testing.T) {
	e, store, trace, events := startEngine(t, fullRegistry(), nil)

	input := Payload{KeyJobID: "job-ok", KeyBucket: "media", "key": "uploads/u1/clip.mp4"}
	id, err := e.Start(context.Background(), "transcript-job-ok", input)
	require.NoError(t, err)

	ev := waitTerminal(t, events)
	assert.Equal(t, id, ev.ExecutionID)
	assert.Equal(t, "transcript-job-ok", ev.Name)
	assert.Equal(t, domain.ExecutionSucceeded, ev.Status)
	assert.Equal(t, id, ev.TraceRef)

	var decoded Payload
	require.NoError(t, json.Unmarshal([]byte(ev.InputPayloadJSON), &decoded))
	assert.Equal(t, "job-ok", decoded[KeyJobID])

	exec := store.get(id)
	require.NotNil(t, exec)
	assert.Equal(t, domain.ExecutionSucceeded, exec.Status)
	assert.Equal(t, "llm_analysis", exec.CurrentStage)

	// entered+succeeded per stage, plus the terminal marker
	kinds := trace.kinds(id)
	var entered, succeeded int
	for _, k := range kinds {
		switch k {
		case domain.TraceStageEntered:
			entered++
		case domain.TraceStageSucceeded:
			succeeded++
		}
	}
	assert.Equal(t, 6, entered)
	assert.Equal(t, 6, succeeded)
	assert.Equal(t, domain.TraceExecutionEnded, kinds[len(kinds)-1])
}

func TestEngineFirstFailureIsFinal(t *testing.T) {
	var laterCalls int64
	registry := fullRegistry()
	registry.Register(TaskDiarize, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		return nil, execpkg.NewPermanentError("HTTP_422", "diarization rejected input", "unsupported codec")
	}))
	registry.Register(TaskSplitBySpeaker, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		atomic.AddInt64(&laterCalls, 1)
		return Payload{}, nil
	}))

	e, store, trace, events := startEngine(t, registry, nil)

	id, err := e.Start(context.Background(), "transcript-job-fail", Payload{KeyJobID: "job-fail"})
	require.NoError(t, err)

	ev := waitTerminal(t, events)
	assert.Equal(t, domain.ExecutionFailed, ev.Status)
	assert.Equal(t, domain.ExecutionFailed, store.get(id).Status)
	assert.Zero(t, atomic.LoadInt64(&laterCalls), "stages after the failure must not run")

	recent, err := trace.Recent(context.Background(), id, 10)
	require.NoError(t, err)
	// newest first: execution_ended, then the classified failure row
	require.GreaterOrEqual(t, len(recent), 2)
	assert.Equal(t, domain.TraceExecutionEnded, recent[0].Kind)
	assert.Equal(t, domain.TraceExecutorFailed, recent[1].Kind)
	assert.Equal(t, "HTTP_422", recent[1].Error)
	assert.Equal(t, "diarization rejected input: unsupported codec", recent[1].Cause)
}

func TestEngineDeadlineTimesOutExecution(t *testing.T) {
	registry := fullRegistry()
	registry.Register(TaskExtractAudio, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	e, store, _, events := startEngine(t, registry, &Options{Deadline: 50 * time.Millisecond})

	id, err := e.Start(context.Background(), "transcript-job-slow", Payload{KeyJobID: "job-slow"})
	require.NoError(t, err)

	ev := waitTerminal(t, events)
	assert.Equal(t, domain.ExecutionTimedOut, ev.Status)
	assert.Equal(t, domain.ExecutionTimedOut, store.get(id).Status)
}

func TestEngineAbortStopsExecution(t *testing.T) {
	started := make(chan struct{})
	registry := fullRegistry()
	registry.Register(TaskExtractAudio, execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	e, store, _, events := startEngine(t, registry, nil)

	id, err := e.Start(context.Background(), "transcript-job-abort", Payload{KeyJobID: "job-abort"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the first stage")
	}
	require.NoError(t, e.Abort(id))

	ev := waitTerminal(t, events)
	assert.Equal(t, domain.ExecutionAborted, ev.Status)
	assert.Equal(t, domain.ExecutionAborted, store.get(id).Status)
}

func TestEngineAbortUnknownExecution(t *testing.T) {
	e, _, _, _ := startEngine(t, fullRegistry(), nil)
	assert.ErrorIs(t, e.Abort("no-such-id"), ErrUnknownExecution)
}

func TestEngineRejectsDuplicateName(t *testing.T) {
	e, _, _, events := startEngine(t, fullRegistry(), nil)

	_, err := e.Start(context.Background(), "transcript-dup", Payload{KeyJobID: "job-a"})
	require.NoError(t, err)
	waitTerminal(t, events)

	_, err = e.Start(context.Background(), "transcript-dup", Payload{KeyJobID: "job-b"})
	assert.ErrorIs(t, err, errNameTaken)
}
