package executor

import (
	"fmt"
	"sync"
)

// Registry maps task names to executors. Stages reference tasks by name so
// the pipeline definition stays declarative and tests can swap in fakes.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a task name, replacing any previous binding.
func (r *Registry) Register(task string, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[task] = ex
}

// Get resolves a task name to its executor.
func (r *Registry) Get(task string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[task]
	if !ok {
		return nil, fmt.Errorf("no executor registered for task %q", task)
	}
	return ex, nil
}
