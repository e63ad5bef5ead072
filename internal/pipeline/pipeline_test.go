package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ekusiadadus/ek-transcript-sub000/internal/domain"
)

// memStore is an in-memory ExecutionStore for engine tests.
type memStore struct {
	mu    sync.Mutex
	execs map[string]*domain.Execution
}

var errNameTaken = errors.New("execution name already in use")

func newMemStore() *memStore {
	return &memStore{execs: make(map[string]*domain.Execution)}
}

func (s *memStore) Create(ctx context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.execs {
		if e.Name == exec.Name {
			return errNameTaken
		}
	}
	cp := *exec
	s.execs[exec.ID] = &cp
	return nil
}

func (s *memStore) SetCurrentStage(ctx context.Context, id, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[id]; ok {
		e.CurrentStage = stage
	}
	return nil
}

func (s *memStore) Finish(ctx context.Context, id string, status domain.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[id]; ok && e.Status == domain.ExecutionRunning {
		e.Status = status
	}
	return nil
}

func (s *memStore) get(id string) *domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// memTrace is an in-memory TraceSink that can also serve the reconciler's
// newest-first fetch.
type memTrace struct {
	mu     sync.Mutex
	events []domain.TraceEvent
}

func (t *memTrace) Append(ctx context.Context, ev *domain.TraceEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, *ev)
	return nil
}

func (t *memTrace) Recent(ctx context.Context, executionID string, limit int) ([]domain.TraceEvent, error) {
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

func (t *memTrace) kinds(executionID string) []domain.TraceKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.TraceKind
	for _, ev := range t.events {
		if ev.ExecutionID == executionID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// passThrough builds an executor that tags the payload with the stage it
// passed through, so stage ordering is observable in the final payload.
func passThrough(name string) func(ctx context.Context, input Payload) (Payload, error) {
	return func(ctx context.Context, input Payload) (Payload, error) {
		out := Payload{}
		for k, v := range input {
			out[k] = v
		}
		visited, _ := out["visited"].(string)
		if visited != "" {
			visited += ","
		}
		out["visited"] = visited + name
		return out, nil
	}
}

func itemPayloads(n int) []interface{} {
	items := make([]interface{}, n)
	for i := 0; i < n; i++ {
		items[i] = map[string]interface{}{"segment": fmt.Sprintf("seg-%d", i), "idx": i}
	}
	return items
}
