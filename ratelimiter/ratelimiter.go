// Package ratelimiter implements the RateLimiter facade: a thin policy
// layer over a backends.Backend that adds fail-open/fail-closed behavior
// and converts a boolean admission into a Decision carrying a retry hint
// on denial.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/tokengate/ratelimit/backends"
	"github.com/tokengate/ratelimit/utils"
)

// Decision is the outcome of a Check call: either Admitted, or Denied with
// a retry hint.
type Decision struct {
	Admitted  bool
	RetryHint time.Duration
}

// Config is the limiter's policy configuration: the bucket shape to apply
// per key, and whether backend errors fail open (admit) or fail closed
// (propagate).
type Config struct {
	Shape    backends.BucketShape
	FailOpen bool
	// OnFailOpen, if set, is called with the swallowed error whenever a
	// backend error is converted into Admitted under fail-open policy.
	OnFailOpen func(err error)
}

// Option configures a RateLimiter at construction time.
type Option func(*Config)

// WithCapacity sets the bucket capacity.
func WithCapacity(capacity int64) Option {
	return func(c *Config) { c.Shape.Capacity = capacity }
}

// WithRefillRate sets tokens added per second.
func WithRefillRate(rate int64) Option {
	return func(c *Config) { c.Shape.RefillRate = rate }
}

// WithRefillInterval sets the advisory refill interval used to size
// polling windows and the oversize-cost retry hint.
func WithRefillInterval(interval time.Duration) Option {
	return func(c *Config) { c.Shape.RefillInterval = interval }
}

// WithFailOpen sets whether backend errors are swallowed into Admitted
// (true) or propagated to the caller (false).
func WithFailOpen(failOpen bool) Option {
	return func(c *Config) { c.FailOpen = failOpen }
}

// WithFailOpenHandler registers a callback invoked with the swallowed
// error whenever fail-open policy converts a backend error into Admitted.
func WithFailOpenHandler(fn func(err error)) Option {
	return func(c *Config) { c.OnFailOpen = fn }
}

// defaultRetryHint is the hint for a denial that isn't the oversize-cost
// edge case, unless RefillInterval is longer, in which case RefillInterval
// is used; a fixed hint stands in for a ceil-based formula.
const defaultRetryHint = time.Second

// RateLimiter composes a backends.Backend with a fail-open/fail-closed
// policy. It owns its backend exclusively: there is no shared ownership
// across facades.
type RateLimiter struct {
	backend backends.Backend
	cfg     Config
}

// New creates a RateLimiter over backend with the given options. Capacity
// and RefillRate must be set via WithCapacity/WithRefillRate.
func New(backend backends.Backend, opts ...Option) (*RateLimiter, error) {
	if backend == nil {
		return nil, fmt.Errorf("ratelimiter: backend cannot be nil")
	}

	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Shape.Capacity < 0 {
		return nil, fmt.Errorf("ratelimiter: capacity must be non-negative")
	}
	if cfg.Shape.RefillRate < 0 {
		return nil, fmt.Errorf("ratelimiter: refill rate must be non-negative")
	}
	if cfg.Shape.RefillInterval <= 0 {
		cfg.Shape.RefillInterval = time.Second
	}

	return &RateLimiter{backend: backend, cfg: cfg}, nil
}

func (r *RateLimiter) retryHintFor(cost int64) time.Duration {
	if cost > r.cfg.Shape.Capacity {
		return r.cfg.Shape.RefillInterval
	}
	if r.cfg.Shape.RefillInterval > defaultRetryHint {
		return r.cfg.Shape.RefillInterval
	}
	return defaultRetryHint
}

// Check delegates to the backend, maps Admitted to Decision{Admitted:
// true}, maps Denied to Decision{Admitted: false, RetryHint: ...}, and
// maps backend errors per the fail-open/fail-closed policy.
func (r *RateLimiter) Check(ctx context.Context, key string, cost int64) (Decision, error) {
	if err := utils.ValidateKey(key, "client key"); err != nil {
		return Decision{}, err
	}

	admitted, err := r.backend.Take(ctx, key, r.cfg.Shape, cost)
	if err != nil {
		if r.cfg.FailOpen {
			if r.cfg.OnFailOpen != nil {
				r.cfg.OnFailOpen(err)
			}
			return Decision{Admitted: true}, nil
		}
		return Decision{}, err
	}

	if admitted {
		return Decision{Admitted: true}, nil
	}
	return Decision{Admitted: false, RetryHint: r.retryHintFor(cost)}, nil
}

// Usage returns the current consumed-token count for key.
func (r *RateLimiter) Usage(ctx context.Context, key string) (int64, error) {
	if err := utils.ValidateKey(key, "client key"); err != nil {
		return 0, err
	}
	return r.backend.Usage(ctx, key, r.cfg.Shape)
}

// Reset clears all state for key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := utils.ValidateKey(key, "client key"); err != nil {
		return err
	}
	return r.backend.Reset(ctx, key)
}

// Close releases the underlying backend's resources.
func (r *RateLimiter) Close() error {
	return r.backend.Close()
}

// Shape returns the bucket configuration applied to every key.
func (r *RateLimiter) Shape() backends.BucketShape {
	return r.cfg.Shape
}
