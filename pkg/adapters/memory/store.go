package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/kiln/pkg/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of entries kept when no size is given.
const DefaultSize = 512

// Cache implements ports.BuildCache with a bounded in-process LRU.
// Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, []byte]
}

// NewCache creates an LRU cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

func key(stageID, inputHash string) string {
	return stageID + "\x00" + inputHash
}

// Get implements ports.BuildCache. The returned slice is a copy.
func (c *Cache) Get(ctx context.Context, stageID, inputHash string) ([]byte, error) {
	data, ok := c.entries.Get(key(stageID, inputHash))
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return append([]byte{}, data...), nil
}

// Put implements ports.BuildCache. The stored slice is a copy of data.
func (c *Cache) Put(ctx context.Context, stageID, inputHash string, data []byte) error {
	c.entries.Add(key(stageID, inputHash), append([]byte{}, data...))
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
