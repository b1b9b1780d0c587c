package kiln

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/aretw0/kiln/internal/config"
	httpAdapter "github.com/aretw0/kiln/pkg/adapters/http"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/observability"
	"github.com/aretw0/kiln/pkg/pipeline"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/aretw0/kiln/pkg/reload"
	"github.com/aretw0/kiln/pkg/tasks"
	"github.com/aretw0/kiln/pkg/watch"
)

// Version is the kiln release. Overridden at link time for tagged builds.
var Version = "0.4.0-dev"

const (
	// DefaultTask runs when no task name is given.
	DefaultTask = "default"
	// WatchInitTask prepares the tree before watching, when defined.
	WatchInitTask = "watch-init"
)

// Engine is the high-level entry point for kiln.
// It wires configuration, the task registry, the build cache and the reload
// hub together and exposes a small API to build, run and watch.
type Engine struct {
	dir        string
	configFile string
	cfg        *config.Config
	project    *config.Project
	executor   *tasks.Executor

	cache       ports.BuildCache
	stats       *cache.Stats
	closer      io.Closer
	hub         *reload.Hub
	broadcaster ports.Broadcaster
	metrics     *observability.Metrics
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	factories   map[string]config.StageFactory
	parallel    int
	workers     int
	report      func(watch.Report)

	Name string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks. They run after the
// built-in metrics hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithCache replaces the backend selected by kiln.yaml.
func WithCache(c ports.BuildCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithBroadcaster replaces the built-in reload hub as the target of
// pipeline and watch signals.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// WithStageFactory makes a custom stage available to kiln.yaml under name.
func WithStageFactory(name string, f func(with map[string]any) (pipeline.Stage, error)) Option {
	return func(e *Engine) {
		if e.factories == nil {
			e.factories = make(map[string]config.StageFactory)
		}
		e.factories[name] = f
	}
}

// WithConfigFile loads a configuration file other than kiln.yaml.
// Relative paths are resolved against the project directory.
func WithConfigFile(path string) Option {
	return func(e *Engine) {
		e.configFile = path
	}
}

// WithParallelLimit bounds how many children of a parallel task run at once.
func WithParallelLimit(n int) Option {
	return func(e *Engine) {
		e.parallel = n
	}
}

// WithWorkers bounds per-record concurrency inside cacheable stages.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithWatchReport receives a report after every watch-triggered run.
func WithWatchReport(fn func(watch.Report)) Option {
	return func(e *Engine) {
		e.report = fn
	}
}

// New loads the project in dir and assembles it. Configuration problems are
// returned as *domain.ConfigurationError before anything runs.
func New(dir string, opts ...Option) (*Engine, error) {
	e := &Engine{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}

	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	e.dir = abs
	e.Name = filepath.Base(abs)

	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = e.logger.With("project", e.Name)

	cfg, err := config.Load(e.dir, e.configFile)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg

	e.closer = nopCloser{}
	if e.cache == nil {
		c, closer, err := config.OpenCache(e.dir, cfg)
		if err != nil {
			return nil, err
		}
		e.cache, e.closer = c, closer
	}
	var buildCache ports.BuildCache
	if e.cache != nil {
		e.stats = cache.WithStats(e.cache)
		buildCache = e.stats
	}

	e.hub = reload.NewHub(reload.WithLogger(e.logger))
	if e.broadcaster == nil {
		e.broadcaster = e.hub
	}

	e.metrics = observability.NewMetrics()
	hooks := e.metrics.Hooks().Merge(observability.LogHooks(e.logger)).Merge(e.hooks)

	project, err := config.Assemble(e.dir, cfg, config.Deps{
		Cache:       buildCache,
		Broadcaster: e.broadcaster,
		Hooks:       hooks,
		Logger:      e.logger,
		Stages:      e.factories,
		Workers:     e.workers,
	})
	if err != nil {
		_ = e.closer.Close()
		return nil, err
	}
	e.project = project

	execOpts := []tasks.Option{tasks.WithLogger(e.logger), tasks.WithHooks(hooks)}
	if e.parallel > 0 {
		execOpts = append(execOpts, tasks.WithParallelLimit(e.parallel))
	}
	e.executor = tasks.NewExecutor(project.Registry, execOpts...)
	return e, nil
}

// Close releases the cache backend.
func (e *Engine) Close() error {
	return e.closer.Close()
}

// Dir returns the absolute project directory.
func (e *Engine) Dir() string { return e.dir }

// Registry returns the assembled task registry.
func (e *Engine) Registry() *tasks.Registry { return e.project.Registry }

// Rules returns the watch rules.
func (e *Engine) Rules() []watch.Rule { return e.project.Rules }

// Hub returns the reload hub clients subscribe to.
func (e *Engine) Hub() *reload.Hub { return e.hub }

// Metrics returns the engine's metric collectors.
func (e *Engine) Metrics() *observability.Metrics { return e.metrics }

// CacheStats reports cache activity since New. Zero when caching is off.
func (e *Engine) CacheStats() cache.Snapshot {
	if e.stats == nil {
		return cache.Snapshot{}
	}
	return e.stats.Snapshot()
}

// Build runs the default task, falling back to "build".
func (e *Engine) Build(ctx context.Context) domain.Outcome {
	if _, ok := e.project.Registry.Get(DefaultTask); ok {
		return e.Run(ctx, DefaultTask)
	}
	return e.Run(ctx, "build")
}

// Run executes the named task.
func (e *Engine) Run(ctx context.Context, name string) domain.Outcome {
	return e.executor.Run(ctx, name)
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name        string
	Kind        domain.TaskKind
	Description string
	Children    []string
	Status      domain.TaskStatus
}

// Tasks lists the registered tasks alphabetically. Inline children of
// composed tasks are included.
func (e *Engine) Tasks() []TaskInfo {
	reg := e.project.Registry
	names := reg.SortedNames()
	out := make([]TaskInfo, 0, len(names))
	for _, name := range names {
		t, _ := reg.Get(name)
		out = append(out, TaskInfo{
			Name:        t.Name,
			Kind:        t.Kind,
			Description: t.Description,
			Children:    t.Children,
			Status:      reg.Status(name),
		})
	}
	return out
}

// Watch runs the watch-init task when defined, then feeds filesystem changes
// to the watch coordinator until ctx is cancelled. A failing init run is
// logged and watching continues so the next save can fix it.
func (e *Engine) Watch(ctx context.Context) error {
	if _, ok := e.project.Registry.Get(WatchInitTask); ok {
		out := e.Run(ctx, WatchInitTask)
		if !out.Succeeded() {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("Initial build failed", "err", out.Err)
			e.broadcaster.Broadcast(domain.Signal{Kind: domain.SignalBuildError, Message: out.Summary()})
		}
	}

	ignore := append(append([]string(nil), watch.DefaultIgnore...), e.cfg.Server.Ignore...)
	src, err := watch.NewFSWatcher(e.dir, ignore)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := []watch.Option{
		watch.WithDebounce(e.cfg.Server.Debounce),
		watch.WithBroadcaster(e.broadcaster),
		watch.WithLogger(e.logger),
	}
	if e.report != nil {
		opts = append(opts, watch.WithReport(e.report))
	}
	coord := watch.NewCoordinator(e.executor, e.project.Rules, opts...)
	e.logger.Info("Watching", "dir", e.dir, "rules", len(e.project.Rules))
	return coord.Run(ctx, src)
}

// Server returns the development server for the configured root.
func (e *Engine) Server() *httpAdapter.Server {
	root := e.cfg.Server.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(e.dir, filepath.FromSlash(root))
	}
	return httpAdapter.NewServer(root, e.hub,
		httpAdapter.WithMetrics(e.metrics.Handler()),
		httpAdapter.WithLogger(e.logger),
	)
}

// Addr is the dev server listen address.
func (e *Engine) Addr() string {
	return ":" + strconv.Itoa(e.cfg.Server.Port)
}

// Serve runs the development server until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	return e.Server().ListenAndServe(ctx, e.Addr())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
