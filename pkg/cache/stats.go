package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// Stats wraps a BuildCache and counts hits, misses and writes.
type Stats struct {
	next   ports.BuildCache
	hits   atomic.Int64
	misses atomic.Int64
	puts   atomic.Int64
}

// WithStats wraps next in a counting decorator.
func WithStats(next ports.BuildCache) *Stats {
	return &Stats{next: next}
}

// Get implements ports.BuildCache.
func (s *Stats) Get(ctx context.Context, stageID, inputHash string) ([]byte, error) {
	data, err := s.next.Get(ctx, stageID, inputHash)
	switch {
	case err == nil:
		s.hits.Add(1)
	case errors.Is(err, domain.ErrCacheMiss):
		s.misses.Add(1)
	}
	return data, err
}

// Put implements ports.BuildCache.
func (s *Stats) Put(ctx context.Context, stageID, inputHash string, data []byte) error {
	if err := s.next.Put(ctx, stageID, inputHash, data); err != nil {
		return err
	}
	s.puts.Add(1)
	return nil
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Puts   int64 `json:"puts"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Puts:   s.puts.Load(),
	}
}
