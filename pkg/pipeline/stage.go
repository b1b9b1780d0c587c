package pipeline

import (
	"context"
	"time"

	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
)

// Stage transforms a sequence of records into a new sequence. A stage may
// replace content, rename, split or drop records.
type Stage interface {
	Name() string
	Transform(ctx context.Context, in []domain.FileRecord) ([]domain.FileRecord, error)
}

// Cacheable is a deterministic stage that maps one record's bytes to new bytes
// without changing its path. Identity must change whenever the stage
// configuration changes; an empty identity disables caching.
type Cacheable interface {
	Stage
	Identity() string
	Process(ctx context.Context, rec domain.FileRecord) ([]byte, error)
}

// Step is a stage plus an optional settle delay before it runs.
type Step struct {
	Stage Stage
	Delay time.Duration
}

// Use wraps a stage in a Step without delay.
func Use(s Stage) Step {
	return Step{Stage: s}
}

// After returns a copy of the step delayed by d.
func (s Step) After(d time.Duration) Step {
	s.Delay = d
	return s
}

// MapFunc transforms one record.
type MapFunc func(ctx context.Context, rec domain.FileRecord) (domain.FileRecord, error)

type mapStage struct {
	name string
	fn   MapFunc
}

// Map builds a stage applying fn to every record.
func Map(name string, fn MapFunc) Stage {
	return &mapStage{name: name, fn: fn}
}

func (m *mapStage) Name() string { return m.name }

func (m *mapStage) Transform(ctx context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(in))
	for _, rec := range in {
		r, err := m.fn(ctx, rec)
		if err != nil {
			return nil, &domain.SourceTransformError{Stage: m.name, Path: rec.Path, Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

// ProcessFunc computes new content for one record.
type ProcessFunc func(ctx context.Context, rec domain.FileRecord) ([]byte, error)

type pureStage struct {
	name     string
	identity string
	fn       ProcessFunc
}

// Each builds a per-record content stage that never consults the cache.
func Each(name string, fn ProcessFunc) Stage {
	return &pureStage{name: name, fn: fn}
}

// Pure builds a cacheable stage. options participate in the cache identity.
func Pure(name string, options map[string]any, fn ProcessFunc) Cacheable {
	return &pureStage{name: name, identity: cache.StageIdentity(name, options), fn: fn}
}

func (p *pureStage) Name() string     { return p.name }
func (p *pureStage) Identity() string { return p.identity }

func (p *pureStage) Process(ctx context.Context, rec domain.FileRecord) ([]byte, error) {
	return p.fn(ctx, rec)
}

func (p *pureStage) Transform(ctx context.Context, in []domain.FileRecord) ([]domain.FileRecord, error) {
	return transformEach(ctx, p, in)
}

// transformEach applies a Cacheable stage without consulting any cache.
func transformEach(ctx context.Context, c Cacheable, in []domain.FileRecord) ([]domain.FileRecord, error) {
	out := make([]domain.FileRecord, 0, len(in))
	for _, rec := range in {
		content, err := c.Process(ctx, rec)
		if err != nil {
			return nil, &domain.SourceTransformError{Stage: c.Name(), Path: rec.Path, Err: err}
		}
		out = append(out, rec.WithContent(content))
	}
	return out, nil
}
