package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
)

// fanOutWork is one item invocation; idx preserves input order in the result
// list regardless of completion order.
type fanOutWork struct {
	idx  int
	item Payload
}

type fanOutResult struct {
	idx     int
	output  Payload
	failure *Failure
}

// runFanOut dispatches every item in the payload's item list to the per-item
// stage through a bounded worker pool. The stage only completes once every
// dispatched item has succeeded or exhausted its retries; a single exhaustion
// fails the stage with no partial results.
func (e *Engine) runFanOut(ctx context.Context, run *execRun, st *Stage, input Payload) Outcome {
	fo := st.FanOut

	items, err := extractItems(input, fo.ItemsPath)
	if err != nil {
		return Fail(&Failure{
			Kind:  domain.TraceStageFailed,
			Stage: st.Name,
			Error: fmt.Sprintf("Stage %s failed", st.Name),
			Cause: err.Error(),
		})
	}

	carried := Payload{}
	for _, key := range fo.ContextKeys {
		if v, ok := input[key]; ok {
			carried[key] = v
		}
	}

	results := make([]interface{}, len(items))
	if len(items) == 0 {
		output := Payload{fo.ResultKey: results}
		for k, v := range carried {
			output[k] = v
		}
		return Succeed(output)
	}

	concurrency := fo.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	workChan := make(chan fanOutWork)
	resultChan := make(chan fanOutResult, len(items))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				resultChan <- e.runItem(ctx, run, &fo.Item, work)
			}
		}()
	}

	dispatched := 0
dispatch:
	for idx, item := range items {
		itemInput := buildItemInput(item, carried)
		select {
		case workChan <- fanOutWork{idx: idx, item: itemInput}:
			dispatched++
		case <-ctx.Done():
			// abort or deadline: stop handing out new items, let
			// in-flight invocations finish
			break dispatch
		}
	}
	close(workChan)
	wg.Wait()
	close(resultChan)

	var firstFailure *Failure
	firstFailureIdx := -1
	for res := range resultChan {
		if res.failure != nil {
			if firstFailureIdx == -1 || res.idx < firstFailureIdx {
				firstFailure = res.failure
				firstFailureIdx = res.idx
			}
			continue
		}
		results[res.idx] = res.output
	}

	if ctx.Err() != nil {
		return Fail(&Failure{
			Kind:  domain.TraceStageFailed,
			Stage: st.Name,
			Error: fmt.Sprintf("Stage %s failed", st.Name),
			Cause: ctx.Err().Error(),
		})
	}
	if dispatched < len(items) {
		return Fail(&Failure{
			Kind:  domain.TraceStageFailed,
			Stage: st.Name,
			Error: fmt.Sprintf("Stage %s failed", st.Name),
			Cause: "fan-out dispatch interrupted",
		})
	}
	if firstFailure != nil {
		return Fail(firstFailure)
	}

	output := Payload{fo.ResultKey: results}
	for k, v := range carried {
		output[k] = v
	}
	return Succeed(output)
}

// runItem runs one item invocation under the item stage's retry policy.
func (e *Engine) runItem(ctx context.Context, run *execRun, item *Stage, work fanOutWork) fanOutResult {
	ex, err := e.registry.Get(item.Task)
	if err != nil {
		return fanOutResult{idx: work.idx, failure: &Failure{
			Kind:  domain.TraceTaskFailed,
			Stage: item.Name,
			Error: fmt.Sprintf("Task %s failed", item.Name),
			Cause: err.Error(),
		}}
	}

	var output Payload
	err = item.Retry.Run(ctx, func(ctx context.Context) error {
		out, invokeErr := ex.Invoke(ctx, work.item)
		if invokeErr != nil {
			return invokeErr
		}
		output = out
		return nil
	}, func(attempt int, attemptErr error, delay time.Duration) {
		run.appendTrace(ctx, &domain.TraceEvent{
			Kind:    domain.TraceStageRetrying,
			Stage:   item.Name,
			Error:   attemptErr.Error(),
			Attempt: attempt,
		})
	})
	if err != nil {
		f := failureFromError(item.Name, err)
		// item exhaustion reports as a task failure regardless of the
		// underlying classification
		f.Kind = domain.TraceTaskFailed
		return fanOutResult{idx: work.idx, failure: f}
	}
	return fanOutResult{idx: work.idx, output: output}
}

// extractItems pulls the fan-out list out of the payload.
func extractItems(p Payload, path string) ([]interface{}, error) {
	raw, ok := p[path]
	if !ok {
		return nil, fmt.Errorf("payload has no %q list", path)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("payload key %q is not a list", path)
	}
	return items, nil
}

// buildItemInput combines one item with the carried-over context fields.
// A map item keeps its own fields; anything else is wrapped under "item".
func buildItemInput(item interface{}, carried Payload) Payload {
	input := Payload{}
	if m, ok := item.(map[string]interface{}); ok {
		for k, v := range m {
			input[k] = v
		}
	} else {
		input["item"] = item
	}
	for k, v := range carried {
		if _, exists := input[k]; !exists {
			input[k] = v
		}
	}
	return input
}
