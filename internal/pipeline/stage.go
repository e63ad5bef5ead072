package pipeline

import (
	"errors"
	"fmt"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
	execpkg "github.com/ekusiadadus/ek-transcript-sub000/internal/executor"
)

// Stage is one step of the pipeline. A stage is sequential (one executor call
// against the whole payload) unless FanOut is set, in which case the payload's
// item list is dispatched to the item stage under a concurrency bound.
type Stage struct {
	Name  string
	Task  string // executor registry key; unused when FanOut is set
	Retry RetryPolicy

	FanOut *FanOut
}

// FanOut configures a fan-out stage.
type FanOut struct {
	// ItemsPath is the payload key holding the list to fan out over.
	ItemsPath string
	// ContextKeys are payload keys copied into every item input and carried
	// into the stage output alongside the result list.
	ContextKeys []string
	// ResultKey is the output payload key for the collected result list.
	ResultKey string
	// Concurrency bounds simultaneous item invocations. Values < 1 mean 1.
	Concurrency int
	// Item is the per-item sequential stage.
	Item Stage
}

// failureFromError classifies an exhausted stage error. Executor-boundary
// errors keep their classification so the reconciler can tell them apart from
// stage-level failures.
func failureFromError(stage string, err error) *Failure {
	var execErr *execpkg.Error
	if errors.As(err, &execErr) {
		return &Failure{
			Kind:  domain.TraceExecutorFailed,
			Stage: stage,
			Error: execErr.Kind,
			Cause: causeOf(execErr),
		}
	}
	return &Failure{
		Kind:  domain.TraceStageFailed,
		Stage: stage,
		Error: fmt.Sprintf("Stage %s failed", stage),
		Cause: err.Error(),
	}
}

func causeOf(err *execpkg.Error) string {
	if err.Cause != "" {
		return fmt.Sprintf("%s: %s", err.Message, err.Cause)
	}
	return err.Message
}
