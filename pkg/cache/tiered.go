package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// Tiered puts a fast cache in front of a durable one.
// Reads try the front first and promote durable hits into it; writes go to both.
type Tiered struct {
	front   ports.BuildCache
	durable ports.BuildCache
}

// NewTiered composes front and durable.
func NewTiered(front, durable ports.BuildCache) *Tiered {
	return &Tiered{front: front, durable: durable}
}

// Get implements ports.BuildCache.
func (t *Tiered) Get(ctx context.Context, stageID, inputHash string) ([]byte, error) {
	data, err := t.front.Get(ctx, stageID, inputHash)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, err
	}

	data, err = t.durable.Get(ctx, stageID, inputHash)
	if err != nil {
		return nil, err
	}
	// Promotion errors are ignored; the durable entry stays authoritative.
	_ = t.front.Put(ctx, stageID, inputHash, data)
	return data, nil
}

// Put implements ports.BuildCache.
func (t *Tiered) Put(ctx context.Context, stageID, inputHash string, data []byte) error {
	if err := t.front.Put(ctx, stageID, inputHash, data); err != nil {
		return fmt.Errorf("front cache put: %w", err)
	}
	if err := t.durable.Put(ctx, stageID, inputHash, data); err != nil {
		return fmt.Errorf("durable cache put: %w", err)
	}
	return nil
}
