package pipeline

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	execpkg "github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fanOutStage(concurrency int) Stage {
	return Stage{
		Name: "transcribe_segments",
		FanOut: &FanOut{
			ItemsPath:   KeySegments,
			ContextKeys: []string{KeyJobID, KeyBucket},
			ResultKey:   KeyResults,
			Concurrency: concurrency,
			Item: Stage{
				Name:  "transcribe",
				Task:  TaskTranscribe,
				Retry: RetryPolicy{MaxAttempts: 3, BaseInterval: time.Millisecond, BackoffRate: 2.0},
			},
		},
	}
}

func newFanOutEngine(t *testing.T, concurrency int, ex execpkg.Executor) (*Engine, *execRun, *Stage) {
	t.Helper()
	registry := execpkg.NewRegistry()
	registry.Register(TaskTranscribe, ex)

	st := fanOutStage(concurrency)
	def := Definition{Name: "test", Stages: []Stage{st}, Deadline: time.Minute}
	e := NewEngine(def, registry, newMemStore(), &memTrace{}, nil)
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	return e, &execRun{engine: e, id: "exec-test"}, &def.Stages[0]
}

func TestFanOutPreservesInputOrder(t *testing.T) {
	// random per-item latency so completion order differs from input order
	ex := execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		return Payload{"segment": input["segment"], "idx": input["idx"]}, nil
	})
	e, run, st := newFanOutEngine(t, 10, ex)

	n := 40
	out := e.runFanOut(context.Background(), run, st, Payload{
		KeyJobID:    "job-1",
		KeyBucket:   "media",
		KeySegments: itemPayloads(n),
	})
	require.True(t, out.OK(), "fan-out should succeed")

	results, ok := out.Payload()[KeyResults].([]interface{})
	require.True(t, ok)
	require.Len(t, results, n)
	for i, res := range results {
		m, ok := res.(Payload)
		require.True(t, ok)
		assert.Equal(t, i, m["idx"], "result order must match input order")
	}

	// carried-over context keys survive into the output payload
	assert.Equal(t, "job-1", out.Payload()[KeyJobID])
	assert.Equal(t, "media", out.Payload()[KeyBucket])
}

func TestFanOutRespectsConcurrencyBound(t *testing.T) {
	var inFlight, peak int64
	ex := execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Duration(1+rand.Intn(5)) * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return Payload{"ok": true}, nil
	})
	e, run, st := newFanOutEngine(t, 10, ex)

	out := e.runFanOut(context.Background(), run, st, Payload{
		KeyJobID:    "job-1",
		KeySegments: itemPayloads(60),
	})
	require.True(t, out.OK())
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(10),
		"no more than 10 item invocations in flight at once")
}

func TestFanOutSingleItemExhaustionFailsStage(t *testing.T) {
	var calls int64
	ex := execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		atomic.AddInt64(&calls, 1)
		if idx, _ := input["idx"].(int); idx == 7 {
			return nil, execpkg.NewError("HTTP_503", "transcription unavailable", "upstream overloaded")
		}
		return Payload{"idx": input["idx"]}, nil
	})
	e, run, st := newFanOutEngine(t, 10, ex)

	out := e.runFanOut(context.Background(), run, st, Payload{
		KeyJobID:    "job-1",
		KeySegments: itemPayloads(10),
	})
	require.False(t, out.OK(), "one exhausted item fails the whole stage")

	f := out.Failure()
	assert.Equal(t, domain.TraceTaskFailed, f.Kind)
	assert.Equal(t, "transcribe", f.Stage)
	assert.Contains(t, f.Cause, "transcription unavailable")

	// failing item retried to exhaustion: 9 successes + 3 attempts
	assert.Equal(t, int64(12), atomic.LoadInt64(&calls))
}

func TestFanOutEmptyList(t *testing.T) {
	var calls int64
	ex := execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		atomic.AddInt64(&calls, 1)
		return Payload{}, nil
	})
	e, run, st := newFanOutEngine(t, 10, ex)

	out := e.runFanOut(context.Background(), run, st, Payload{
		KeyJobID:    "job-1",
		KeySegments: []interface{}{},
	})
	require.True(t, out.OK())

	results, ok := out.Payload()[KeyResults].([]interface{})
	require.True(t, ok)
	assert.Empty(t, results)
	assert.Zero(t, atomic.LoadInt64(&calls), "no invocations for an empty item list")
}

func TestFanOutMissingItemsKey(t *testing.T) {
	ex := execpkg.Func(func(ctx context.Context, input Payload) (Payload, error) {
		return Payload{}, nil
	})
	e, run, st := newFanOutEngine(t, 10, ex)

	out := e.runFanOut(context.Background(), run, st, Payload{KeyJobID: "job-1"})
	require.False(t, out.OK())
	assert.Equal(t, domain.TraceStageFailed, out.Failure().Kind)
}
