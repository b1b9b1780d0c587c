package config

import (
	"fmt"
	"io"

	"github.com/aretw0/kiln/pkg/adapters/file"
	"github.com/aretw0/kiln/pkg/adapters/memory"
	"github.com/aretw0/kiln/pkg/adapters/redis"
	"github.com/aretw0/kiln/pkg/adapters/s3"
	"github.com/aretw0/kiln/pkg/cache"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// OpenCache builds the cache backend selected by cfg.Cache. A nil cache
// means caching is disabled. The returned closer releases network clients
// and is never nil.
func OpenCache(dir string, cfg *Config) (ports.BuildCache, io.Closer, error) {
	c := cfg.Cache
	switch c.Backend {
	case "none", "off":
		return nil, nopCloser{}, nil
	case "memory":
		mc, err := memory.NewCache(c.Size)
		return mc, nopCloser{}, err
	case "tiered":
		front, err := memory.NewCache(c.Size)
		if err != nil {
			return nil, nopCloser{}, err
		}
		if c.Durable == "tiered" || c.Durable == "memory" {
			return nil, nopCloser{}, &domain.ConfigurationError{Subject: "cache.durable", Reason: fmt.Sprintf("%q cannot back a tiered cache", c.Durable)}
		}
		durable, closer, err := openDurable(dir, cfg, c.Durable)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return cache.NewTiered(front, durable), closer, nil
	default:
		return openDurable(dir, cfg, c.Backend)
	}
}

func openDurable(dir string, cfg *Config, backend string) (ports.BuildCache, io.Closer, error) {
	c := cfg.Cache
	switch backend {
	case "file":
		return file.NewCache(resolve(dir, c.Dir)), nopCloser{}, nil
	case "redis":
		if c.RedisURL == "" {
			return nil, nopCloser{}, &domain.ConfigurationError{Subject: "cache.redis_url", Reason: "required by the redis backend"}
		}
		var opts []redis.Option
		if c.Prefix != "" {
			opts = append(opts, redis.WithPrefix(c.Prefix))
		}
		if c.TTL > 0 {
			opts = append(opts, redis.WithTTL(c.TTL))
		}
		rc, err := redis.New(c.RedisURL, opts...)
		if err != nil {
			return nil, nopCloser{}, &domain.ConfigurationError{Subject: "cache.redis_url", Reason: err.Error()}
		}
		return rc, rc, nil
	case "s3":
		store, err := cfg.S3.open()
		if err != nil {
			return nil, nopCloser{}, err
		}
		return s3.Cache{Store: store}, nopCloser{}, nil
	}
	return nil, nopCloser{}, &domain.ConfigurationError{Subject: "cache.backend", Reason: fmt.Sprintf("unknown backend %q", backend)}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
