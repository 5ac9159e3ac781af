package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengate/ratelimit/backends"
)

// fakeBackend is an in-process fake standing in for a distributed backend,
// counting calls so batching behavior is observable.
type fakeBackend struct {
	mu       sync.Mutex
	tokens   map[string]int64
	calls    int
	resets   int
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
		f.tokens[key] = cur
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
	f.resets++
	delete(f.tokens, key)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

var shape = backends.BucketShape{Capacity: 1000, RefillRate: 100, RefillInterval: time.Second}

func TestBatchingBackend_ThroughputScenario(t *testing.T) {
	// 500 sequential checks of cost 1 against a fresh key, with a batch
	// size of 100, should trigger at most 5 underlying reservation rounds.
	inner := newFakeBackend()
	b := New(inner, 100)
	ctx := context.Background()

	admitted := 0
	for range 500 {
		ok, err := b.Take(ctx, "k", shape, 1)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}

	assert.Equal(t, 500, admitted)
	assert.LessOrEqual(t, inner.calls, 500, "batching must not exceed one underlying call per local unit reserved")
	assert.LessOrEqual(t, inner.calls, 5*100, "at most 5 batches of 100 calls each")
}

func TestBatchingBackend_CostGreaterThanBatchSizeAlwaysDenied(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, 10)
	ctx := context.Background()

	ok, err := b.Take(ctx, "k", shape, 11)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, inner.calls, "oversize-vs-batch cost must short-circuit before any reservation call")
}

func TestBatchingBackend_DeniedWhenUnderlyingExhausted(t *testing.T) {
	inner := newFakeBackend()
	inner.tokens["k"] = 0 // underlying bucket starts empty
	b := New(inner, 10)
	ctx := context.Background()

	ok, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchingBackend_ResetDropsLocalBatchAndDelegates(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, 10)
	ctx := context.Background()

	_, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)

	require.NoError(t, b.Reset(ctx, "k"))
	assert.Equal(t, 1, inner.resets)

	b.mu.Lock()
	_, exists := b.batches["k"]
	b.mu.Unlock()
	assert.False(t, exists)
}

func TestBatchingBackend_UsageDelegatesWithoutLocalSubtraction(t *testing.T) {
	inner := newFakeBackend()
	b := New(inner, 100)
	ctx := context.Background()

	_, err := b.Take(ctx, "k", shape, 1)
	require.NoError(t, err)

	usage, err := b.Usage(ctx, "k", shape)
	require.NoError(t, err)
	// Underlying reserved a full batch of 100 on the first miss.
	assert.Equal(t, int64(100), usage)
}
