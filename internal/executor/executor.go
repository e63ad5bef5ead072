// Package executor defines the contract between the pipeline and the external
// workers that do the actual media processing. The orchestrator never touches
// audio or text itself; each stage hands a JSON payload to an Executor and
// gets a JSON payload back.
package executor

import (
	"context"
	"fmt"
)

// Executor is one opaque unit of work. Implementations must be safe for
// concurrent use; the fan-out stage invokes the same executor from many
// goroutines.
type Executor interface {
	Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Invoke calls the wrapped function.
func (f Func) Invoke(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, input)
}

// Error is a classified executor failure. Kind and Cause feed the execution
// trace; NonRetryable stops the stage's retry loop immediately.
type Error struct {
	Kind         string // short machine-readable classification, e.g. "HTTP_502"
	Message      string
	Cause        string
	NonRetryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a retryable classified error.
func NewError(kind, message, cause string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewPermanentError builds a non-retryable classified error.
func NewPermanentError(kind, message, cause string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, NonRetryable: true}
}
