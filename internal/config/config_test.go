package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/kiln/internal/config"
	"github.com/aretw0/kiln/pkg/adapters/memory"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "dist", cfg.Dist)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Server.Debounce)
	assert.Equal(t, "tiered", cfg.Cache.Backend)
	assert.Contains(t, cfg.Pipelines, "styles")
	assert.Equal(t, 500*time.Millisecond, cfg.Pipelines["styles"].Stages[0].Delay)
	assert.Equal(t, "build", cfg.Tasks["default"].Ref)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Parse([]byte("dist: out\nbogus: true\n"))
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("dist: out\n"))
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.Dist)
	assert.Equal(t, "file", cfg.Cache.Durable)
	assert.Equal(t, "app", cfg.Server.Root)
}

func TestLoad_MissingDefaultFileUsesBuiltin(t *testing.T) {
	cfg, err := config.Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Contains(t, cfg.Tasks, "build")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(t.TempDir(), "custom.yaml")
	var ioErr *domain.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
}

func TestLoad_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("server:\n  port: 3000\n"), 0o644))
	t.Setenv("KILN_PORT", "8080")
	t.Setenv("KILN_CACHE", "Memory")

	cfg, err := config.Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("KILN_PORT", "eighty")
	_, err := config.Load(t.TempDir(), "")
	require.Error(t, err)
	assert.True(t, domain.IsConfiguration(err))
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KILN_CACHE_DIR=/tmp/kiln-test-cache\n"), 0o644))
	// Registers restoration of the unset state once the test ends.
	t.Setenv("KILN_CACHE_DIR", "")
	require.NoError(t, os.Unsetenv("KILN_CACHE_DIR"))

	cfg, err := config.Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kiln-test-cache", cfg.Cache.Dir)
}

func TestOpenCache(t *testing.T) {
	dir := t.TempDir()

	t.Run("none", func(t *testing.T) {
		c, closer, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "none"}})
		require.NoError(t, err)
		assert.Nil(t, c)
		assert.NoError(t, closer.Close())
	})

	t.Run("memory", func(t *testing.T) {
		c, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "memory"}})
		require.NoError(t, err)
		assert.IsType(t, &memory.Cache{}, c)
	})

	t.Run("tiered", func(t *testing.T) {
		c, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "tiered", Durable: "file", Dir: ".kiln/cache"}})
		require.NoError(t, err)
		assert.IsType(t, &cache.Tiered{}, c)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, closer, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr()}})
		require.NoError(t, err)
		defer closer.Close()

		require.NoError(t, c.Put(t.Context(), "stage", "hash", []byte("x")))
		got, err := c.Get(t.Context(), "stage", "hash")
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), got)
	})

	t.Run("redis without url", func(t *testing.T) {
		_, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "redis"}})
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("s3 without settings", func(t *testing.T) {
		_, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "s3"}})
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "floppy"}})
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("tiered over memory", func(t *testing.T) {
		_, _, err := config.OpenCache(dir, &config.Config{Cache: config.CacheConfig{Backend: "tiered", Durable: "memory"}})
		assert.True(t, domain.IsConfiguration(err))
	})
}

