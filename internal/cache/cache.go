// Package cache provides a small in-process TTL cache for the read-side
// serving layer. Concurrent cache misses for the same key are collapsed into
// a single computation, so an expired hot key never causes a thundering herd
// against the database.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"airsense/internal/types"
)

// ComputeFn produces a fresh value for a cache key.
type ComputeFn func(ctx context.Context) (any, error)

// Cache is a TTL map with per-key singleflight on misses. A zero or negative
// TTL disables caching for that call: the value is computed and returned but
// never stored.
type Cache struct {
	clock types.Clock

	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
}

type entry struct {
	value     any
	expiresAt time.Time
}

// New creates an empty cache using the given clock for expiry decisions.
func New(clock types.Clock) *Cache {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Cache{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

// GetOrCompute returns the cached value for key when present and fresh.
// Otherwise it computes a new value, stores it for ttl, and returns it.
// Concurrent callers missing on the same key share one computation and all
// receive its result. Errors are returned to every waiter and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFn) (any, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent computation may have landed between the miss and
		// the flight start.
		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.set(key, v, ttl)
		return v, nil
	})
	return v, err
}

// GetOrComputeBypass skips the read path entirely: it always recomputes the
// value and, on success, replaces the stored entry. Used for force-refresh
// requests that must observe current storage state.
func (c *Cache) GetOrComputeBypass(ctx context.Context, key string, ttl time.Duration, fn ComputeFn) (any, error) {
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	c.set(key, v, ttl)
	return v, nil
}

// Invalidate drops the entry for key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) set(key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: v, expiresAt: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}
