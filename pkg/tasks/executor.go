package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// Executor runs tasks from a Registry.
type Executor struct {
	registry *Registry
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	limit    int
}

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithParallelLimit caps how many children of one parallel group run at
// the same time. Zero or negative means no limit.
func WithParallelLimit(n int) Option {
	return func(e *Executor) {
		e.limit = n
	}
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor runs from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Run executes the named task and returns its outcome.
// Failures never escape as panics; they are reported in the outcome.
func (e *Executor) Run(ctx context.Context, name string) domain.Outcome {
	t, ok := e.registry.Get(name)
	if !ok {
		return domain.Outcome{
			Task:   name,
			Status: domain.StatusFailed,
			Err:    fmt.Errorf("%w: %s", domain.ErrTaskNotFound, name),
		}
	}
	return e.run(ctx, t)
}

func (e *Executor) run(ctx context.Context, t Task) domain.Outcome {
	start := time.Now()
	e.registry.setStatus(t.Name, domain.StatusRunning)
	if e.hooks.OnTaskStart != nil {
		e.hooks.OnTaskStart(ctx, &domain.TaskEvent{
			EventBase: domain.EventBase{Timestamp: start, Type: domain.EventTaskStart},
			Task:      t.Name,
			Kind:      t.Kind,
		})
	}
	e.logger.Debug("Task started", "task", t.Name, "kind", t.Kind)

	var out domain.Outcome
	switch t.Kind {
	case domain.TaskSeries:
		out = e.runSeries(ctx, t)
	case domain.TaskParallel:
		out = e.runParallel(ctx, t)
	default:
		out = domain.Outcome{Err: e.runLeaf(ctx, t)}
	}

	out.Task = t.Name
	out.Kind = t.Kind
	out.Duration = time.Since(start)
	out.Status = domain.StatusSucceeded
	if out.Err != nil {
		out.Status = domain.StatusFailed
	}
	e.registry.setStatus(t.Name, out.Status)

	if out.Err != nil {
		e.logger.Debug("Task failed", "task", t.Name, "duration", out.Duration, "err", out.Err)
	} else {
		e.logger.Debug("Task finished", "task", t.Name, "duration", out.Duration)
	}
	if e.hooks.OnTaskFinish != nil {
		e.hooks.OnTaskFinish(ctx, &domain.TaskEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventTaskFinish},
			Task:      t.Name,
			Kind:      t.Kind,
			Status:    out.Status,
			Duration:  out.Duration,
			Err:       out.Err,
		})
	}
	return out
}

func (e *Executor) runLeaf(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.Name, r)
		}
	}()
	return t.Runner.Run(ctx)
}

func (e *Executor) runSeries(ctx context.Context, t Task) domain.Outcome {
	var out domain.Outcome
	for _, name := range t.Children {
		if err := ctx.Err(); err != nil {
			out.Failed = []string{name}
			out.Err = &domain.TaskError{Task: t.Name, Kind: t.Kind, Failed: out.Failed, Errs: []error{err}}
			return out
		}

		child := e.Run(ctx, name)
		out.Children = append(out.Children, child)
		if !child.Succeeded() {
			out.Failed = []string{name}
			out.Err = &domain.TaskError{Task: t.Name, Kind: t.Kind, Failed: out.Failed, Errs: []error{child.Err}}
			return out
		}
	}
	return out
}

func (e *Executor) runParallel(ctx context.Context, t Task) domain.Outcome {
	children := make([]domain.Outcome, len(t.Children))

	// Children report failure through their outcome, never through the group,
	// so a failing child never cancels its siblings.
	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, name := range t.Children {
		g.Go(func() error {
			children[i] = e.Run(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := domain.Outcome{Children: children}
	var errs []error
	for _, c := range children {
		if !c.Succeeded() {
			out.Failed = append(out.Failed, c.Task)
			errs = append(errs, c.Err)
		}
	}
	if len(errs) > 0 {
		out.Err = &domain.TaskError{Task: t.Name, Kind: t.Kind, Failed: out.Failed, Errs: errs}
	}
	return out
}
