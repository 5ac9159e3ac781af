package ratelimiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/ratelimit/backends"
	"github.com/tokengate/ratelimit/backends/memory"
)

func newLimiter(t *testing.T, opts ...Option) *RateLimiter {
	t.Helper()
	base := []Option{WithCapacity(10), WithRefillRate(5), WithRefillInterval(time.Second)}
	rl, err := New(memory.New(), append(base, opts...)...)
	require.NoError(t, err)
	return rl
}

func TestRateLimiter_AdmitsThenDeniesThenRetryHint(t *testing.T) {
	ctx := context.Background()
	rl := newLimiter(t)

	for i := range 10 {
		d, err := rl.Check(ctx, "k", 1)
		require.NoError(t, err)
		require.True(t, d.Admitted, "check %d", i)
	}

	d, err := rl.Check(ctx, "k", 1)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, time.Second, d.RetryHint)
}

func TestRateLimiter_OversizeCostRetryHintIsRefillInterval(t *testing.T) {
	ctx := context.Background()
	rl := newLimiter(t, WithRefillInterval(3*time.Second))

	d, err := rl.Check(ctx, "k", 11)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, 3*time.Second, d.RetryHint)
}

func TestRateLimiter_CostZeroIdempotent(t *testing.T) {
	ctx := context.Background()
	rl := newLimiter(t)

	for range 5 {
		d, err := rl.Check(ctx, "k", 0)
		require.NoError(t, err)
		assert.True(t, d.Admitted)
	}

	usage, err := rl.Usage(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage)
}

func TestRateLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	rl := newLimiter(t)

	d, err := rl.Check(ctx, "k", 10)
	require.NoError(t, err)
	require.True(t, d.Admitted)

	d, err = rl.Check(ctx, "k", 1)
	require.NoError(t, err)
	require.False(t, d.Admitted)

	require.NoError(t, rl.Reset(ctx, "k"))

	d, err = rl.Check(ctx, "k", 1)
	require.NoError(t, err)
	require.True(t, d.Admitted)

	usage, err := rl.Usage(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage)
}

type alwaysErrorBackend struct{}

var errAlways = errors.New("boom")

func (alwaysErrorBackend) Take(context.Context, string, backends.BucketShape, int64) (bool, error) {
	return false, errAlways
}
func (alwaysErrorBackend) Usage(context.Context, string, backends.BucketShape) (int64, error) {
	return 0, errAlways
}
func (alwaysErrorBackend) Reset(context.Context, string) error { return errAlways }
func (alwaysErrorBackend) Close() error                        { return nil }

func TestRateLimiter_FailOpen(t *testing.T) {
	ctx := context.Background()
	var warnings int64
	rl, err := New(alwaysErrorBackend{},
		WithCapacity(10), WithRefillRate(5), WithFailOpen(true),
		WithFailOpenHandler(func(error) { atomic.AddInt64(&warnings, 1) }))
	require.NoError(t, err)

	for range 1000 {
		d, err := rl.Check(ctx, "k", 1)
		require.NoError(t, err)
		require.True(t, d.Admitted)
	}
	assert.Equal(t, int64(1000), atomic.LoadInt64(&warnings))
}

func TestRateLimiter_FailClosed(t *testing.T) {
	ctx := context.Background()
	rl, err := New(alwaysErrorBackend{}, WithCapacity(10), WithRefillRate(5), WithFailOpen(false))
	require.NoError(t, err)

	for range 1000 {
		_, err := rl.Check(ctx, "k", 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, nil)
	}
}

func TestRateLimiter_CheckBlockingRetriesUntilAdmitted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rl := newLimiter(t)
	for range 10 {
		_, err := rl.Check(ctx, "k", 1)
		require.NoError(t, err)
	}

	start := time.Now()
	d, err := rl.CheckBlocking(ctx, "k", 5)
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestRateLimiter_CheckBlockingCancellationIsPrompt(t *testing.T) {
	rl := newLimiter(t)
	ctx, cancel := context.WithCancel(context.Background())

	for range 10 {
		_, err := rl.Check(ctx, "k", 1)
		require.NoError(t, err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := rl.CheckBlocking(ctx, "k", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "cancellation must interrupt the retry-hint sleep promptly")
}
