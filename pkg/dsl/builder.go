package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/tasks"
)

// Builder manages the task graph construction.
type Builder struct {
	tasks map[string]*TaskBuilder
}

// New creates a new task graph builder.
func New() *Builder {
	return &Builder{
		tasks: make(map[string]*TaskBuilder),
	}
}

// Add creates a new task in the graph.
// If the task already exists, it returns the existing builder.
func (b *Builder) Add(name string) *TaskBuilder {
	if tb, ok := b.tasks[name]; ok {
		return tb
	}
	tb := &TaskBuilder{
		task:    tasks.Task{Name: name},
		builder: b,
	}
	b.tasks[name] = tb
	return tb
}

// Has reports whether name was added.
func (b *Builder) Has(name string) bool {
	_, ok := b.tasks[name]
	return ok
}

// Build compiles the graph into a task registry.
func (b *Builder) Build() (*tasks.Registry, error) {
	reg := tasks.NewRegistry()

	names := make([]string, 0, len(b.tasks))
	for name := range b.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(names))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &domain.ConfigurationError{
				Subject: "task " + name,
				Reason:  "cycle: " + strings.Join(append(path, name), " -> "),
			}
		}
		tb := b.tasks[name]
		if tb.task.Kind == "" {
			return &domain.ConfigurationError{Subject: "task " + name, Reason: "declares neither a runner nor children"}
		}

		state[name] = visiting
		path = append(path, name)
		for _, child := range tb.task.Children {
			if _, ok := b.tasks[child]; !ok {
				return &domain.ConfigurationError{Subject: "task " + name, Reason: fmt.Sprintf("references undefined task %q", child)}
			}
			if err := visit(child, path); err != nil {
				return err
			}
		}
		state[name] = done
		return reg.Register(tb.task)
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
