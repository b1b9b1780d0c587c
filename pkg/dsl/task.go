package dsl

import (
	"context"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/tasks"
)

// TaskBuilder configures a single task. The last of Runs, Func, Series or
// Parallel wins.
type TaskBuilder struct {
	task    tasks.Task
	builder *Builder
}

// Runs makes the task a leaf backed by r (a pipeline, a tool task, ...).
func (tb *TaskBuilder) Runs(r tasks.Runner) *TaskBuilder {
	tb.task.Kind = domain.TaskLeaf
	tb.task.Runner = r
	tb.task.Children = nil
	return tb
}

// Func makes the task a leaf backed by fn.
func (tb *TaskBuilder) Func(fn func(ctx context.Context) error) *TaskBuilder {
	return tb.Runs(tasks.RunnerFunc(fn))
}

// Series runs children one after the other, stopping at the first failure.
func (tb *TaskBuilder) Series(children ...string) *TaskBuilder {
	tb.task.Kind = domain.TaskSeries
	tb.task.Children = children
	tb.task.Runner = nil
	return tb
}

// Parallel runs children concurrently.
func (tb *TaskBuilder) Parallel(children ...string) *TaskBuilder {
	tb.task.Kind = domain.TaskParallel
	tb.task.Children = children
	tb.task.Runner = nil
	return tb
}

// Describe sets the human readable description.
func (tb *TaskBuilder) Describe(text string) *TaskBuilder {
	tb.task.Description = text
	return tb
}

// Add proxies to the parent Builder to allow chaining task definitions.
func (tb *TaskBuilder) Add(name string) *TaskBuilder {
	return tb.builder.Add(name)
}
