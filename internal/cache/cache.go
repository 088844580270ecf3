package cache

import (
	"sync"
	"time"

	"github.com/web3-frozen/defilens/internal/metrics"
)

// DefaultTTL is used when no override is configured.
const DefaultTTL = 5 * time.Minute

// Entry is one stored result. Entries are replaced whole, never patched.
type Entry[T any] struct {
	Key        string
	Payload    T
	ComputedAt time.Time
}

// Cache is a TTL-keyed result store. Stale entries are not evicted; they stay
// in memory until the same key is written again.
type Cache[T any] struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]Entry[T]
}

// New creates a cache whose TTL is fixed for its lifetime.
func New[T any](ttl time.Duration) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[T]{ttl: ttl, now: time.Now, entries: make(map[string]Entry[T])}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache[T]) WithClock(now func() time.Time) *Cache[T] {
	c.now = now
	return c
}

func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// Get returns the stored entry for key, stale or not.
func (c *Cache[T]) Get(key string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put stores payload under key stamped with the current time.
func (c *Cache[T]) Put(key string, payload T) {
	c.mu.Lock()
	c.entries[key] = Entry[T]{Key: key, Payload: payload, ComputedAt: c.now()}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntries.Set(float64(n))
}

// IsValid reports whether key exists and is younger than the TTL.
func (c *Cache[T]) IsValid(key string) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return ok && c.now().Sub(e.ComputedAt) < c.ttl
}

// Lookup returns the payload when key is valid and records the outcome.
func (c *Cache[T]) Lookup(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.ComputedAt) < c.ttl {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return e.Payload, true
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	var zero T
	return zero, false
}

// Len counts stored entries, including stale ones.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
