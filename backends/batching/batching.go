// Package batching implements a wrapper backend that pre-reserves N tokens
// in bulk from an underlying backend and serves subsequent checks from a
// local counter until the reservation drains.
package batching

import (
	"context"
	"sync"
	"time"

	"github.com/tokengate/ratelimit/backends"
)

// localBatch is the per-key local reservation state.
type localBatch struct {
	available     int64
	reservedUntil time.Time
}

// Backend wraps an inner backends.Backend, pre-reserving tokens N at a time.
type Backend struct {
	inner     backends.Backend
	batchSize int64

	mu      sync.Mutex
	batches map[string]*localBatch
}

// New wraps inner, reserving batchSize tokens per round-trip.
func New(inner backends.Backend, batchSize int64) *Backend {
	return &Backend{
		inner:     inner,
		batchSize: batchSize,
		batches:   make(map[string]*localBatch),
	}
}

// Take implements backends.Backend.
//
// A consume whose cost exceeds the configured batch size can never be
// satisfied by this wrapper and is always Denied.
func (b *Backend) Take(ctx context.Context, key string, shape backends.BucketShape, cost int64) (bool, error) {
	if cost > b.batchSize {
		return false, nil
	}

	b.mu.Lock()
	batch, ok := b.batches[key]
	if ok && batch.available >= cost {
		batch.available -= cost
		b.mu.Unlock()
		return true, nil
	}
	b.mu.Unlock()

	// Reserve a fresh batch: N calls of take(key, 1) against the
	// underlying backend, one round-trip each. If any of them is Denied,
	// the whole reservation is Denied — tokens already consumed by the
	// calls preceding the denial are simply lost to this node and will be
	// refilled normally by the bucket's own refill rule; we never
	// double-decrement for them.
	for reserved := int64(0); reserved < b.batchSize; reserved++ {
		admitted, err := b.inner.Take(ctx, key, shape, 1)
		if err != nil {
			return false, err
		}
		if !admitted {
			return false, nil
		}
	}

	b.mu.Lock()
	fresh := &localBatch{available: b.batchSize, reservedUntil: time.Now().Add(60 * time.Second)}
	b.batches[key] = fresh
	admitted := fresh.available >= cost
	if admitted {
		fresh.available -= cost
	}
	b.mu.Unlock()

	return admitted, nil
}

// Usage implements backends.Backend by delegating to the underlying
// backend. The local batch is not subtracted: batching trades accuracy
// for throughput.
func (b *Backend) Usage(ctx context.Context, key string, shape backends.BucketShape) (int64, error) {
	return b.inner.Usage(ctx, key, shape)
}

// Reset implements backends.Backend: drop the local batch, then reset the
// underlying backend.
func (b *Backend) Reset(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.batches, key)
	b.mu.Unlock()
	return b.inner.Reset(ctx, key)
}

// Close implements backends.Backend.
func (b *Backend) Close() error {
	return b.inner.Close()
}
