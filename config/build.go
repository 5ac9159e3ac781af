package config

import (
	"context"
	"fmt"

	"github.com/tokengate/ratelimit/backends"
	"github.com/tokengate/ratelimit/backends/batching"
	"github.com/tokengate/ratelimit/backends/caching"
	"github.com/tokengate/ratelimit/backends/memory"
	"github.com/tokengate/ratelimit/backends/postgres"
	"github.com/tokengate/ratelimit/backends/redis"
	"github.com/tokengate/ratelimit/ratelimiter"
)

// BuildBackend constructs the backends.Backend stack described by c: the
// selected storage implementation, optionally wrapped in the batching and
// caching decorators, in that order — batching wraps the storage backend and
// caching wraps the result, so a request consults the cache first and only a
// cache miss reaches the batching layer. The two wrappers compose
// independently.
func BuildBackend(ctx context.Context, c *Config) (backends.Backend, error) {
	var (
		backend backends.Backend
		err     error
	)

	switch c.Backend {
	case BackendMemory:
		backend = memory.New()
	case BackendRedis:
		backend, err = redis.New(redis.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			PoolSize: c.Redis.PoolSize,
		})
	case BackendRedisCluster:
		backend, err = redis.NewCluster(c.RedisCluster.Nodes)
	case BackendPostgres:
		backend, err = postgres.New(ctx, postgres.Config{
			ConnString: c.Postgres.ConnString,
			MaxConns:   c.Postgres.MaxConns,
		})
	default:
		return nil, fmt.Errorf("config: unknown backend kind %q: %w", c.Backend, backends.ErrBackendNotFound)
	}
	if err != nil {
		return nil, err
	}

	if c.Batching != nil {
		backend = batching.New(backend, c.Batching.BatchSize)
	}
	if c.Caching != nil {
		backend = caching.New(backend, c.Caching.CacheTTL)
	}
	return backend, nil
}

// BuildRateLimiter constructs the full stack: backend plus the policy
// facade configured from c.Limit and c.FailOpen.
func BuildRateLimiter(ctx context.Context, c *Config, onFailOpen func(error)) (*ratelimiter.RateLimiter, error) {
	backend, err := BuildBackend(ctx, c)
	if err != nil {
		return nil, err
	}

	rl, err := ratelimiter.New(backend,
		ratelimiter.WithCapacity(c.Limit.Capacity),
		ratelimiter.WithRefillRate(c.Limit.RefillRate),
		ratelimiter.WithRefillInterval(c.Limit.RefillInterval),
		ratelimiter.WithFailOpen(c.FailOpen),
		ratelimiter.WithFailOpenHandler(onFailOpen),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return rl, nil
}
