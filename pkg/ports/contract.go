package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBuildCacheContract runs a suite of tests to verify that a BuildCache
// implementation adheres to the defined interface contract.
func RunBuildCacheContract(t *testing.T, cache BuildCache) {
	ctx := context.Background()
	stage := "contract-stage-" + time.Now().Format("20060102150405")

	t.Run("Miss", func(t *testing.T) {
		_, err := cache.Get(ctx, stage, "absent")
		assert.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("Put and Get", func(t *testing.T) {
		payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
		require.NoError(t, cache.Put(ctx, stage, "hash-1", payload))

		got, err := cache.Get(ctx, stage, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("Keys are scoped by stage", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, stage, "hash-2", []byte("a")))

		_, err := cache.Get(ctx, stage+"-other", "hash-2")
		assert.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, stage, "hash-3", []byte("old")))
		require.NoError(t, cache.Put(ctx, stage, "hash-3", []byte("new")))

		got, err := cache.Get(ctx, stage, "hash-3")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("Empty value", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, stage, "hash-empty", []byte{}))

		got, err := cache.Get(ctx, stage, "hash-empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Concurrent writers", func(t *testing.T) {
		payload := []byte("same bytes from every writer")
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, cache.Put(ctx, stage, "hash-concurrent", payload))
				_, _ = cache.Get(ctx, stage, "hash-concurrent")
			}()
		}
		wg.Wait()

		got, err := cache.Get(ctx, stage, "hash-concurrent")
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}
