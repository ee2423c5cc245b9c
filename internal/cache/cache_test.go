package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGetOrCompute_CachesWithinTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(clock)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "fresh", nil
	}

	v, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	v, err = c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCompute_RecomputesAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(clock)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	v, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	clock.Advance(61 * time.Second)

	v, err = c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("db down")
		}
		return "recovered", nil
	}

	_, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.Error(t, err)

	v, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	const waiters = 16
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(started)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(ctx, "hot", time.Minute, fn)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let the first computation start, give the rest time to pile up on the
	// same key, then release.
	<-started
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestGetOrComputeBypass_AlwaysRecomputesAndReplaces(t *testing.T) {
	clock := newFakeClock()
	c := New(clock)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	v, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)

	// Bypass ignores the fresh entry and replaces it.
	v, err = c.GetOrComputeBypass(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)

	// Subsequent plain reads see the replaced value.
	v, err = c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestGetOrComputeBypass_ErrorKeepsOldEntry(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	_, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
		return "old", nil
	})
	require.NoError(t, err)

	_, err = c.GetOrComputeBypass(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)

	v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
		t.Fatal("should not recompute")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", v)
}

func TestInvalidate(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	_, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)

	c.Invalidate("k")

	v, err := c.GetOrCompute(ctx, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestGetOrCompute_ZeroTTLNeverStores(t *testing.T) {
	c := New(newFakeClock())
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		return calls.Add(1), nil
	}

	for i := 1; i <= 3; i++ {
		v, err := c.GetOrCompute(ctx, "k", 0, fn)
		require.NoError(t, err)
		assert.Equal(t, int32(i), v)
	}
}
