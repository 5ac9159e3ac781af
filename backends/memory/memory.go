// Package memory implements the InProcessBackend: a concurrent mapping from
// client key to bucket.Bucket, with lazy creation and an insert-only-if-
// absent tie-break on concurrent first access.
package memory

import (
	"context"
	"sync"

	"github.com/tokengate/ratelimit/backends"
	"github.com/tokengate/ratelimit/bucket"
)

// Backend is the in-process storage variant. It never returns a
// *backends.BackendError in normal operation.
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]*bucket.Bucket
}

// New creates an empty in-process backend.
func New() *Backend {
	return &Backend{buckets: make(map[string]*bucket.Bucket)}
}

func toBucketConfig(shape backends.BucketShape) bucket.Config {
	return bucket.Config{
		Capacity:       shape.Capacity,
		RefillRate:     shape.RefillRate,
		RefillInterval: shape.RefillInterval,
	}
}

// get returns the bucket for key, creating one lazily from shape if this
// is the first reference. The fast path only takes a shared lock; a miss
// upgrades to an exclusive lock and double-checks before inserting, so the
// first writer wins and any concurrent second writer reuses the winner's
// bucket.
func (b *Backend) get(key string, shape backends.BucketShape) *bucket.Bucket {
	b.mu.RLock()
	bkt, ok := b.buckets[key]
	b.mu.RUnlock()
	if ok {
		return bkt
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bkt, ok := b.buckets[key]; ok {
		return bkt
	}
	bkt = bucket.New(toBucketConfig(shape))
	b.buckets[key] = bkt
	return bkt
}

// Take implements backends.Backend.
func (b *Backend) Take(_ context.Context, key string, shape backends.BucketShape, cost int64) (bool, error) {
	bkt := b.get(key, shape)
	return bkt.Consume(cost) == bucket.Admitted, nil
}

// Usage implements backends.Backend.
func (b *Backend) Usage(_ context.Context, key string, shape backends.BucketShape) (int64, error) {
	bkt := b.get(key, shape)
	return bkt.Config().Capacity - bkt.Available(), nil
}

// Reset implements backends.Backend. It removes key so the next access
// recreates a full bucket.
func (b *Backend) Reset(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, key)
	return nil
}

// Close releases the backend's resources. The in-process backend holds no
// external resources, so this is a no-op.
func (b *Backend) Close() error {
	return nil
}
