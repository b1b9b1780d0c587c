package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// Pipeline is a source, an ordered chain of stages and its sinks.
type Pipeline struct {
	name    string
	source  Source
	steps   []Step
	sinks   []Sink
	cache   ports.BuildCache
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
	workers int
}

// Option defines a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithSteps appends stages.
func WithSteps(steps ...Step) Option {
	return func(p *Pipeline) {
		p.steps = append(p.steps, steps...)
	}
}

// WithStages appends stages without delay.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) {
		for _, s := range stages {
			p.steps = append(p.steps, Use(s))
		}
	}
}

// WithSinks appends sinks.
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithCache sets the build cache consulted by cacheable stages.
func WithCache(c ports.BuildCache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// WithHooks registers observability hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Pipeline) {
		p.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithWorkers bounds per-record concurrency inside cacheable stages.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New creates a pipeline.
func New(name string, source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:    name,
		source:  source,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Source returns the source selector.
func (p *Pipeline) Source() Source { return p.source }

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Stage.Name()
	}
	return names
}

// Sinks returns the sink names in write order.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.Name()
	}
	return names
}

// Validate reports malformed definitions.
func (p *Pipeline) Validate() error {
	if p.name == "" {
		return &domain.ConfigurationError{Subject: "pipeline", Reason: "empty name"}
	}
	if len(p.source.Patterns) == 0 && len(p.source.Ordered) == 0 {
		return &domain.ConfigurationError{Subject: "pipeline " + p.name, Reason: "source selects nothing"}
	}
	for i, s := range p.steps {
		if s.Stage == nil {
			return &domain.ConfigurationError{Subject: "pipeline " + p.name, Reason: fmt.Sprintf("stage %d is nil", i)}
		}
		if s.Delay < 0 {
			return &domain.ConfigurationError{Subject: "pipeline " + p.name, Reason: fmt.Sprintf("stage %q has a negative delay", s.Stage.Name())}
		}
	}
	for i, s := range p.sinks {
		if s == nil {
			return &domain.ConfigurationError{Subject: "pipeline " + p.name, Reason: fmt.Sprintf("sink %d is nil", i)}
		}
	}
	return nil
}

// Result summarizes one execution.
type Result struct {
	Records     []domain.FileRecord
	CacheHits   int
	CacheMisses int
	Duration    time.Duration
}

// Run executes the pipeline. It satisfies the task runner contract.
func (p *Pipeline) Run(ctx context.Context) error {
	_, err := p.Execute(ctx)
	return err
}

// Execute resolves the source, applies every stage in order and writes the
// result to each sink. A failing stage aborts the execution before any sink
// runs.
func (p *Pipeline) Execute(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	records, err := p.source.Resolve(ctx)
	if err != nil {
		p.logger.Error("Pipeline source failed", "pipeline", p.name, "err", err)
		return res, err
	}
	p.logger.Debug("Pipeline started", "pipeline", p.name, "files", len(records))

	for _, step := range p.steps {
		if step.Delay > 0 {
			if err := sleep(ctx, step.Delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		stageStart := time.Now()
		var hits, misses int
		records, hits, misses, err = p.apply(ctx, step.Stage, records)
		res.CacheHits += hits
		res.CacheMisses += misses
		err = p.wrap(step.Stage, err)
		p.stageFinished(ctx, step.Stage.Name(), len(records), time.Since(stageStart), err)
		if err != nil {
			p.logger.Error("Pipeline stage failed", "pipeline", p.name, "stage", step.Stage.Name(), "err", err)
			return res, err
		}
	}

	for _, sink := range p.sinks {
		if err := sink.Write(ctx, records); err != nil {
			p.logger.Error("Pipeline sink failed", "pipeline", p.name, "sink", sink.Name(), "err", err)
			return res, err
		}
	}

	res.Records = records
	res.Duration = time.Since(start)
	p.logger.Debug("Pipeline finished", "pipeline", p.name, "files", len(records),
		"cache_hits", res.CacheHits, "cache_misses", res.CacheMisses, "duration", res.Duration)
	return res, nil
}

func (p *Pipeline) apply(ctx context.Context, s Stage, in []domain.FileRecord) ([]domain.FileRecord, int, int, error) {
	c, ok := s.(Cacheable)
	if !ok || p.cache == nil || c.Identity() == "" {
		out, err := s.Transform(ctx, in)
		return out, 0, 0, err
	}

	out := make([]domain.FileRecord, len(in))
	errs := make([]error, len(in))
	var hits, misses atomic.Int64

	var g errgroup.Group
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, rec := range in {
		g.Go(func() error {
			content, hit, err := p.processCached(ctx, c, rec)
			if hit {
				hits.Add(1)
			} else {
				misses.Add(1)
			}
			if err != nil {
				errs[i] = &domain.SourceTransformError{Stage: c.Name(), Path: rec.Path, Err: err}
				return nil
			}
			out[i] = rec.WithContent(content)
			return nil
		})
	}
	_ = g.Wait()

	// Report the first failure in input order so errors are deterministic.
	for _, err := range errs {
		if err != nil {
			return nil, int(hits.Load()), int(misses.Load()), err
		}
	}
	return out, int(hits.Load()), int(misses.Load()), nil
}

func (p *Pipeline) processCached(ctx context.Context, c Cacheable, rec domain.FileRecord) ([]byte, bool, error) {
	id := c.Identity()
	hash := cache.InputHash(rec.Content)

	data, err := p.cache.Get(ctx, id, hash)
	switch {
	case err == nil:
		p.cacheLookup(ctx, c.Name(), rec.Path, true)
		return data, true, nil
	case !errors.Is(err, domain.ErrCacheMiss):
		p.logger.Warn("Cache lookup failed", "pipeline", p.name, "stage", c.Name(), "path", rec.Path, "err", err)
	}
	p.cacheLookup(ctx, c.Name(), rec.Path, false)

	content, err := c.Process(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if err := p.cache.Put(ctx, id, hash, content); err != nil {
		p.logger.Warn("Cache store failed", "pipeline", p.name, "stage", c.Name(), "path", rec.Path, "err", err)
	}
	return content, false, nil
}

// wrap attributes a stage failure to this pipeline.
func (p *Pipeline) wrap(s Stage, err error) error {
	if err == nil {
		return nil
	}
	var ste *domain.SourceTransformError
	if errors.As(err, &ste) {
		if ste.Pipeline == "" {
			ste.Pipeline = p.name
		}
		return err
	}
	var ioe *domain.IOError
	if errors.As(err, &ioe) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.SourceTransformError{Pipeline: p.name, Stage: s.Name(), Err: err}
}

func (p *Pipeline) stageFinished(ctx context.Context, stage string, n int, d time.Duration, err error) {
	if p.hooks.OnStageFinish == nil {
		return
	}
	p.hooks.OnStageFinish(ctx, &domain.StageEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventStageFinish},
		Pipeline:  p.name,
		Stage:     stage,
		Records:   n,
		Duration:  d,
		Err:       err,
	})
}

func (p *Pipeline) cacheLookup(ctx context.Context, stage, path string, hit bool) {
	if p.hooks.OnCacheLookup == nil {
		return
	}
	p.hooks.OnCacheLookup(ctx, &domain.CacheEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventCacheLookup},
		Pipeline:  p.name,
		Stage:     stage,
		Path:      path,
		Hit:       hit,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
