package ports

import "context"

// BuildCache stores stage outputs keyed by stage identity and input hash.
// Implementations must be safe for concurrent use; concurrent Puts for the
// same key always carry identical bytes, so last-writer-wins is acceptable.
type BuildCache interface {
	// Get returns the bytes stored for the pair, or domain.ErrCacheMiss.
	Get(ctx context.Context, stageID, inputHash string) ([]byte, error)

	// Put stores data for the pair, replacing any previous entry.
	Put(ctx context.Context, stageID, inputHash string, data []byte) error
}
