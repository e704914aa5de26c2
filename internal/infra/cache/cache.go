// Package cache provides an in-memory TTL cache and the onboarding draft
// caches built on it and on Redis.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	mu      sync.RWMutex
	items   map[string]entry[T]
	ttl     time.Duration
	onEvict func(key string, value T)

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an InMemory cache.
type Option[T any] func(*InMemory[T])

// WithEvictHook registers fn to run, outside the cache lock, for every entry
// removed because it expired.
func WithEvictHook[T any](fn func(key string, value T)) Option[T] {
	return func(c *InMemory[T]) { c.onEvict = fn }
}

// New creates a new in-memory cache with the given TTL. Close stops its
// background sweeper.
func New[T any](ttl time.Duration, opts ...Option[T]) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Touch returns a live value and restarts its TTL in one step, so the sweeper
// cannot evict the entry between the lookup and the refresh.
func (c *InMemory[T]) Touch(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	e, ok := c.items[key]
	if !ok || now.After(e.expiresAt) {
		var zero T
		return zero, false
	}
	e.expiresAt = now.Add(c.ttl)
	c.items[key] = e
	return e.value, true
}

// TakeExpired removes key if it has expired but was not swept yet, and returns
// its value. Live entries are left alone. The evict hook does not run.
func (c *InMemory[T]) TakeExpired(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || !time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	delete(c.items, key)
	return e.value, true
}

// Set stores a value in the cache with the configured TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with its own TTL. A non-positive ttl uses the default.
func (c *InMemory[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a value from the cache. The evict hook does not run.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Range calls fn for every live entry until fn returns false. fn runs on a
// snapshot, so it may call back into the cache.
func (c *InMemory[T]) Range(fn func(key string, value T) bool) {
	c.mu.RLock()
	now := time.Now()
	snap := make(map[string]T, len(c.items))
	for k, e := range c.items {
		if now.Before(e.expiresAt) {
			snap[k] = e.value
		}
	}
	c.mu.RUnlock()

	for k, v := range snap {
		if !fn(k, v) {
			return
		}
	}
}

// Close stops the background sweeper and waits for it to exit.
func (c *InMemory[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	defer close(c.done)

	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *InMemory[T]) sweep() {
	type evicted struct {
		key   string
		value T
	}
	var out []evicted

	c.mu.Lock()
	now := time.Now()
	for k, v := range c.items {
		if now.After(v.expiresAt) {
			delete(c.items, k)
			out = append(out, evicted{k, v.value})
		}
	}
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for _, e := range out {
		c.onEvict(e.key, e.value)
	}
}
