// Package caching implements a wrapper backend that keeps a short-TTL
// local shadow of token counts over a distributed backend, to reduce read
// amplification on the admission-decision hot path.
package caching

import (
	"context"
	"sync"
	"time"

	"github.com/tokengate/ratelimit/backends"
)

// cacheEntry holds a shadowed token count, stale once expiresAt passes
// and treated as absent when stale.
type cacheEntry struct {
	tokens    int64
	expiresAt time.Time
}

// Backend wraps an inner backends.Backend (normally a distributed backend)
// with a per-key, short-TTL local read cache.
type Backend struct {
	inner backends.Backend
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New wraps inner with a local cache of the given TTL. Callers must bound
// ttl — stale reads admit up to ttl's worth of extra tokens per node.
func New(inner backends.Backend, ttl time.Duration) *Backend {
	return &Backend{inner: inner, ttl: ttl, cache: make(map[string]cacheEntry)}
}

func (b *Backend) fresh(key string) (cacheEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

// Take implements backends.Backend.
func (b *Backend) Take(ctx context.Context, key string, shape backends.BucketShape, cost int64) (bool, error) {
	if entry, ok := b.fresh(key); ok && entry.tokens >= cost {
		b.mu.Lock()
		b.cache[key] = cacheEntry{tokens: entry.tokens - cost, expiresAt: entry.expiresAt}
		b.mu.Unlock()
		return true, nil
	}

	admitted, err := b.inner.Take(ctx, key, shape, cost)
	if err != nil {
		return false, err
	}
	if admitted {
		b.mu.Lock()
		b.cache[key] = cacheEntry{
			tokens:    shape.Capacity - cost,
			expiresAt: time.Now().Add(b.ttl),
		}
		b.mu.Unlock()
	}
	return admitted, nil
}

// Usage implements backends.Backend by delegating directly to the
// underlying backend; usage reads are not cached.
func (b *Backend) Usage(ctx context.Context, key string, shape backends.BucketShape) (int64, error) {
	return b.inner.Usage(ctx, key, shape)
}

// Reset implements backends.Backend: evict the local entry, then delegate.
func (b *Backend) Reset(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.cache, key)
	b.mu.Unlock()
	return b.inner.Reset(ctx, key)
}

// Close implements backends.Backend.
func (b *Backend) Close() error {
	return b.inner.Close()
}
