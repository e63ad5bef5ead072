// Package pipeline implements the execution engine for the transcript
// processing pipeline: an interpreter over an ordered stage list with
// per-stage retry, bounded fan-out, a wall-clock deadline, and an append-only
// execution trace.
package pipeline

import (
	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
)

// Payload is the JSON-like object threaded through stages.
type Payload = map[string]interface{}

// Failure describes why a stage gave up. Kind selects the trace event row the
// reconciler later mines for a human-readable message.
type Failure struct {
	Kind  domain.TraceKind // stage_failed, executor_failed or task_failed
	Stage string
	Error string
	Cause string
}

// Outcome is the result of running one stage: either a payload or a failure.
type Outcome struct {
	payload Payload
	failure *Failure
}

// Succeed wraps a payload into a successful outcome.
func Succeed(p Payload) Outcome {
	return Outcome{payload: p}
}

// Fail wraps a failure into an outcome.
func Fail(f *Failure) Outcome {
	return Outcome{failure: f}
}

// OK reports whether the outcome carries a payload.
func (o Outcome) OK() bool {
	return o.failure == nil
}

// Payload returns the payload of a successful outcome.
func (o Outcome) Payload() Payload {
	return o.payload
}

// Failure returns the failure of an unsuccessful outcome, or nil.
func (o Outcome) Failure() *Failure {
	return o.failure
}
