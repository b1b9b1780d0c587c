package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/kiln/pkg/domain"
)

// Runner is the unit of work behind a leaf task.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Task is a named node of the orchestration graph.
type Task struct {
	Name        string
	Kind        domain.TaskKind
	Description string
	Children    []string // series / parallel only
	Runner      Runner   // leaf only
}

// Registry owns the task definitions for the lifetime of a build engine.
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	status map[string]domain.TaskStatus
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[string]*Task),
		status: make(map[string]domain.TaskStatus),
	}
}

// Leaf registers a task backed by runner.
func (r *Registry) Leaf(name string, runner Runner) error {
	return r.Register(Task{Name: name, Kind: domain.TaskLeaf, Runner: runner})
}

// Series registers a task running children one after the other.
func (r *Registry) Series(name string, children ...string) error {
	return r.Register(Task{Name: name, Kind: domain.TaskSeries, Children: children})
}

// Parallel registers a task running children concurrently.
func (r *Registry) Parallel(name string, children ...string) error {
	return r.Register(Task{Name: name, Kind: domain.TaskParallel, Children: children})
}

// Register validates and stores t.
// Composed tasks may only reference tasks that are already registered.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return &domain.ConfigurationError{Subject: "task", Reason: "name cannot be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name]; exists {
		return &domain.ConfigurationError{Subject: t.Name, Reason: "task is already defined"}
	}

	switch t.Kind {
	case domain.TaskLeaf:
		if t.Runner == nil {
			return &domain.ConfigurationError{Subject: t.Name, Reason: "leaf task has no runner"}
		}
	case domain.TaskSeries, domain.TaskParallel:
		if len(t.Children) == 0 {
			return &domain.ConfigurationError{Subject: t.Name, Reason: fmt.Sprintf("%s task has no children", t.Kind)}
		}
		for _, child := range t.Children {
			if _, ok := r.tasks[child]; !ok {
				return &domain.ConfigurationError{Subject: t.Name, Reason: fmt.Sprintf("unresolvable task reference %q", child)}
			}
		}
	default:
		return &domain.ConfigurationError{Subject: t.Name, Reason: fmt.Sprintf("unknown task kind %q", t.Kind)}
	}

	stored := t
	stored.Children = append([]string(nil), t.Children...)
	r.tasks[t.Name] = &stored
	r.order = append(r.order, t.Name)
	r.status[t.Name] = domain.StatusIdle
	return nil
}

// Describe attaches a human readable description to a task.
func (r *Registry) Describe(name, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, name)
	}
	t.Description = description
	return nil
}

// Get returns a copy of the named task.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return Task{}, false
	}
	cp := *t
	cp.Children = append([]string(nil), t.Children...)
	return cp, true
}

// Names returns the task names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SortedNames returns the task names alphabetically.
func (r *Registry) SortedNames() []string {
	names := r.Names()
	sort.Strings(names)
	return names
}

// Status returns the last known status of a task.
func (r *Registry) Status(name string) domain.TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.status[name]; ok {
		return s
	}
	return domain.StatusIdle
}

func (r *Registry) setStatus(name string, s domain.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[name] = s
}

// Leaves returns the leaf tasks reachable from name, in execution order,
// without duplicates.
func (r *Registry) Leaves(name string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	var visit func(string) error
	visit = func(n string) error {
		t, ok := r.Get(n)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, n)
		}
		if t.Kind == domain.TaskLeaf {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
			return nil
		}
		for _, c := range t.Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(name); err != nil {
		return nil, err
	}
	return out, nil
}
