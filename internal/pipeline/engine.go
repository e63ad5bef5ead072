package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	execpkg "github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
	"github.com/ekusiadadus/ek-transcript-sub000/internal/logger"
	"github.com/google/uuid"
)

// ExecutionStore persists execution records. *repository.ExecutionRepository
// satisfies it.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.Execution) error
	SetCurrentStage(ctx context.Context, id, stage string) error
	Finish(ctx context.Context, id string, status domain.ExecutionStatus) error
}

// TraceSink receives the append-only execution trace. *repository.TraceRepository
// satisfies it.
type TraceSink interface {
	Append(ctx context.Context, ev *domain.TraceEvent) error
}

// ProgressSink receives stage transitions for incremental progress reporting.
type ProgressSink interface {
	StageEntered(ctx context.Context, jobID, stage string, progress int)
}

// TerminalEvent is emitted exactly once per execution when it leaves RUNNING.
// Delivery to handlers is at-least-once; handlers must be idempotent.
type TerminalEvent struct {
	ExecutionID      string
	Name             string
	Status           domain.ExecutionStatus
	InputPayloadJSON string
	TraceRef         string // execution ID to fetch trace events by
}

// TerminalHandler consumes terminal events.
type TerminalHandler func(ctx context.Context, ev TerminalEvent)

// ErrUnknownExecution is returned by Abort for IDs with no active run.
var ErrUnknownExecution = errors.New("no active execution with that id")

// Options tunes engine behavior beyond the pipeline definition.
type Options struct {
	// Deadline overrides the definition's deadline when > 0.
	Deadline time.Duration
	// EventBuffer sizes the terminal event channel. Defaults to 64.
	EventBuffer int
	// Progress receives stage transitions; nil disables progress reporting.
	Progress ProgressSink
	// Logger defaults to the package default logger.
	Logger *logger.Logger
}

// Engine runs pipeline executions. Each execution is an independent goroutine;
// the only shared state is the execution store and trace sink, both key-scoped.
type Engine struct {
	def      Definition
	registry *execpkg.Registry
	store    ExecutionStore
	trace    TraceSink
	progress ProgressSink
	log      *logger.Logger
	deadline time.Duration

	events     chan TerminalEvent
	handlersMu sync.RWMutex
	handlers   []TerminalHandler

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
	wg     sync.WaitGroup

	dispatchDone chan struct{}
	stopOnce     sync.Once
}

// NewEngine creates an engine for one pipeline definition and starts its
// terminal event dispatcher.
func NewEngine(def Definition, registry *execpkg.Registry, store ExecutionStore, trace TraceSink, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	deadline := def.Deadline
	if opts.Deadline > 0 {
		deadline = opts.Deadline
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	e := &Engine{
		def:          def,
		registry:     registry,
		store:        store,
		trace:        trace,
		progress:     opts.Progress,
		log:          log.WithField(logger.FieldComponent, "engine"),
		deadline:     deadline,
		events:       make(chan TerminalEvent, buffer),
		runs:         make(map[string]context.CancelFunc),
		dispatchDone: make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// Subscribe registers a terminal event handler. Handlers registered after an
// event was dispatched do not see it.
func (e *Engine) Subscribe(h TerminalHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Start persists a new execution under the given name and runs it
// asynchronously. It fails only if the initial payload cannot be persisted;
// a name collision with an existing execution surfaces the store's error
// (repository.ErrExecutionExists).
func (e *Engine) Start(ctx context.Context, name string, input Payload) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input payload: %w", err)
	}

	jobID, _ := input[KeyJobID].(string)
	exec := &domain.Execution{
		ID:           uuid.New().String(),
		Name:         name,
		JobID:        jobID,
		Status:       domain.ExecutionRunning,
		InputPayload: string(data),
		StartedAt:    time.Now(),
	}
	if err := e.store.Create(ctx, exec); err != nil {
		return "", err
	}

	runCtx, timeoutCancel := context.WithTimeout(context.Background(), e.deadline)
	abortCtx, abortCancel := context.WithCancel(runCtx)

	e.runsMu.Lock()
	e.runs[exec.ID] = abortCancel
	e.runsMu.Unlock()

	run := &execRun{engine: e, id: exec.ID}
	e.wg.Add(1)
	go func() {
		defer timeoutCancel()
		defer abortCancel()
		e.run(abortCtx, run, exec.Name, jobID, input, string(data))
	}()

	e.log.WithFields(logger.Fields{
		logger.FieldExecutionID: exec.ID,
		logger.FieldJobID:       jobID,
	}).Info("Execution started")

	return exec.ID, nil
}

// Abort cancels an active execution. New stage and item dispatch stops
// promptly; an executor call already in flight is not interrupted.
func (e *Engine) Abort(executionID string) error {
	e.runsMu.Lock()
	cancel, ok := e.runs[executionID]
	e.runsMu.Unlock()
	if !ok {
		return ErrUnknownExecution
	}
	cancel()
	return nil
}

// Stop waits for in-flight executions to reach a terminal state and for their
// terminal events to be dispatched, or until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.stopOnce.Do(func() { close(e.events) })
		<-e.dispatchDone
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execRun tracks per-execution trace state. Fan-out workers append
// concurrently, so the sequence counter is mutex-guarded.
type execRun struct {
	engine *Engine
	id     string
	seqMu  sync.Mutex
	seq    int
}

// appendTrace stamps and stores one trace event. Appends survive run
// cancellation; losing the failure row would blind the reconciler.
func (r *execRun) appendTrace(ctx context.Context, ev *domain.TraceEvent) {
	r.seqMu.Lock()
	r.seq++
	ev.Seq = r.seq
	r.seqMu.Unlock()

	ev.ExecutionID = r.id
	ev.CreatedAt = time.Now()
	if err := r.engine.trace.Append(context.WithoutCancel(ctx), ev); err != nil {
		r.engine.log.WithFields(logger.Fields{
			logger.FieldExecutionID: r.id,
			"kind":                  ev.Kind,
		}).WithError(err).Warn("Failed to append trace event")
	}
}

// run walks the stage list in order. The first stage failure is final; the
// deadline and abort signal override whatever stage is in progress.
func (e *Engine) run(ctx context.Context, run *execRun, name, jobID string, input Payload, payloadJSON string) {
	defer e.wg.Done()
	defer func() {
		e.runsMu.Lock()
		delete(e.runs, run.id)
		e.runsMu.Unlock()
	}()

	payload := input
	total := len(e.def.Stages)
	status := domain.ExecutionSucceeded

stages:
	for i := range e.def.Stages {
		st := &e.def.Stages[i]

		if ctx.Err() != nil {
			status = statusFromContext(ctx)
			break
		}

		run.appendTrace(ctx, &domain.TraceEvent{Kind: domain.TraceStageEntered, Stage: st.Name})
		if err := e.store.SetCurrentStage(context.WithoutCancel(ctx), run.id, st.Name); err != nil {
			e.log.WithField(logger.FieldExecutionID, run.id).WithError(err).Warn("Failed to record current stage")
		}
		if e.progress != nil && jobID != "" {
			e.progress.StageEntered(ctx, jobID, st.Name, i*100/total)
		}

		var out Outcome
		if st.FanOut != nil {
			out = e.runFanOut(ctx, run, st, payload)
		} else {
			out = e.runSequential(ctx, run, st, payload)
		}

		if !out.OK() {
			if ctx.Err() != nil {
				status = statusFromContext(ctx)
				break stages
			}
			f := out.Failure()
			run.appendTrace(ctx, &domain.TraceEvent{
				Kind:  f.Kind,
				Stage: f.Stage,
				Error: f.Error,
				Cause: f.Cause,
			})
			status = domain.ExecutionFailed
			break stages
		}

		run.appendTrace(ctx, &domain.TraceEvent{Kind: domain.TraceStageSucceeded, Stage: st.Name})
		payload = out.Payload()
	}

	if ctx.Err() != nil && status == domain.ExecutionSucceeded {
		status = statusFromContext(ctx)
	}

	run.appendTrace(ctx, &domain.TraceEvent{
		Kind:  domain.TraceExecutionEnded,
		Error: string(status),
	})
	if err := e.store.Finish(context.WithoutCancel(ctx), run.id, status); err != nil {
		e.log.WithField(logger.FieldExecutionID, run.id).WithError(err).Error("Failed to persist terminal status")
	}

	e.log.WithFields(logger.Fields{
		logger.FieldExecutionID: run.id,
		logger.FieldJobID:       jobID,
		logger.FieldStatus:      string(status),
	}).Info("Execution finished")

	e.events <- TerminalEvent{
		ExecutionID:      run.id,
		Name:             name,
		Status:           status,
		InputPayloadJSON: payloadJSON,
		TraceRef:         run.id,
	}
}

func statusFromContext(ctx context.Context) domain.ExecutionStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ExecutionTimedOut
	}
	return domain.ExecutionAborted
}

// runSequential invokes the stage's executor under its retry policy. The
// output payload fully replaces the input.
func (e *Engine) runSequential(ctx context.Context, run *execRun, st *Stage, input Payload) Outcome {
	ex, err := e.registry.Get(st.Task)
	if err != nil {
		return Fail(&Failure{
			Kind:  domain.TraceStageFailed,
			Stage: st.Name,
			Error: fmt.Sprintf("Stage %s failed", st.Name),
			Cause: err.Error(),
		})
	}

	var output Payload
	err = st.Retry.Run(ctx, func(ctx context.Context) error {
		out, invokeErr := ex.Invoke(ctx, input)
		if invokeErr != nil {
			return invokeErr
		}
		output = out
		return nil
	}, func(attempt int, attemptErr error, delay time.Duration) {
		run.appendTrace(ctx, &domain.TraceEvent{
			Kind:    domain.TraceStageRetrying,
			Stage:   st.Name,
			Error:   attemptErr.Error(),
			Attempt: attempt,
		})
	})
	if err != nil {
		return Fail(failureFromError(st.Name, err))
	}
	return Succeed(output)
}

// dispatch fans terminal events out to subscribers, one event at a time.
func (e *Engine) dispatch() {
	defer close(e.dispatchDone)
	for ev := range e.events {
		e.handlersMu.RLock()
		handlers := make([]TerminalHandler, len(e.handlers))
		copy(handlers, e.handlers)
		e.handlersMu.RUnlock()

		for _, h := range handlers {
			h(context.Background(), ev)
		}
	}
}
