// Package backends defines the pluggable storage backend abstraction that
// the rate limiter composes: in-process, distributed, and the
// batching/caching wrappers all implement the same Backend contract.
package backends

import (
	"context"
	"time"
)

// Backend is the storage abstraction a RateLimiter is built on. All three
// backend variants (in-process, distributed, batching) and the caching
// wrapper implement it identically, so they compose transparently.
type Backend interface {
	// Take attempts to consume cost tokens from the bucket identified by
	// key, using shape to lazily create or parameterize that bucket. It
	// returns Admitted/Denied, never an error for a plain denial — only
	// genuine storage/transport failures surface as error.
	Take(ctx context.Context, key string, shape BucketShape, cost int64) (admitted bool, err error)

	// Usage returns the number of tokens currently consumed (capacity
	// minus the refill-aware available token count) for key.
	Usage(ctx context.Context, key string, shape BucketShape) (consumed int64, err error)

	// Reset clears all state for key; the next access recreates a full
	// bucket.
	Reset(ctx context.Context, key string) error

	// Close releases any resources (connections, goroutines) held by the
	// backend.
	Close() error
}

// BucketShape carries the per-key configuration a backend needs to create
// or evaluate a bucket. It mirrors bucket.Config but lives in this package
// so backends don't import the facade's configuration types; see
// bucket.Config for the semantics of each field. The distributed backend
// passes it on every call (the script is stateless between calls); the
// in-process backend only consults it the first time a key is seen.
type BucketShape struct {
	Capacity       int64
	RefillRate     int64
	RefillInterval time.Duration
}
