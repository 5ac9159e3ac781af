package caching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/ratelimit/backends"
)

type fakeBackend struct {
	mu     sync.Mutex
	tokens map[string]int64
	calls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tokens: make(map[string]int64)}
}

func (f *fakeBackend) Take(_ context.Context, key string, shape backends.BucketShape, cost int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	cur, ok := f.tokens[key]
	if !ok {
		cur = shape.Capacity
	}
	if cur < cost {
		return false, nil
	}
	f.tokens[key] = cur - cost
	return true, nil
}

func (f *fakeBackend) Usage(_ context.Context, key string, shape backends.BucketShape) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.tokens[key]
	if !ok {
		cur = shape.Capacity
	}
	return shape.Capacity - cur, nil
}

func (f *fakeBackend) Reset(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, key)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

var shape = backends.BucketShape{Capacity: 100, RefillRate: 10, RefillInterval: time.Second}

func TestCachingBackend_ServesFromCacheWithoutHittingUnderlying(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, time.Minute)
	ctx := context.Background()

	ok, err := b.Take(ctx, "k", shape, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, inner.calls)

	ok, err = b.Take(ctx, "k", shape, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, inner.calls, "second take should be served from cache")
}

func TestCachingBackend_FallsThroughOnceCacheExpires(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, time.Millisecond)
	ctx := context.Background()

	_, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "expired cache entry must fall through to underlying backend")
}

func TestCachingBackend_ResetEvictsLocalEntry(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, time.Minute)
	ctx := context.Background()

	_, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)

	require.NoError(t, b.Reset(ctx, "k"))

	_, ok := b.fresh("k")
	assert.False(t, ok)
}

func TestCachingBackend_DeniedPassesThroughUncached(t *testing.T) {
	inner := newFakeBackend()
	inner.tokens["k"] = 0
	b := New(inner, time.Minute)
	ctx := context.Background()

	ok, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, exists := b.fresh("k")
	assert.False(t, exists, "a denial must not populate the cache")
}
