package resilience

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is how long a successful result stays reusable.
const DefaultTTL = time.Hour

// Entry is a memoized operation result.
type Entry struct {
	Key      string
	Result   any
	StoredAt time.Time
}

// Cache memoizes successful operation results by caller-supplied key.
//
// Expired entries are never returned but stay in the map until the same key
// succeeds again. There is no sweep: keys are bounded by the set of videos
// and prompts a process sees during its lifetime.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an empty cache. One instance is meant to be built at
// startup and shared by every Runner in the process.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the reuse window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// lookup returns the entry for key if it is still inside the TTL window,
// or inside maxAge when that is shorter.
func (c *Cache) lookup(key string, maxAge time.Duration) (Entry, bool) {
	window := c.ttl
	if maxAge > 0 && maxAge < window {
		window = maxAge
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.StoredAt) >= window {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// store overwrites any previous entry for key.
func (c *Cache) store(key string, result any) {
	c.mu.Lock()
	c.entries[key] = Entry{Key: key, Result: result, StoredAt: c.now()}
	c.mu.Unlock()
}

// Has reports whether key holds a live entry. It does not count as a hit or miss.
func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	return ok && c.now().Sub(e.StoredAt) < c.ttl
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Load returns the live cached value of type T for key.
// A value stored under the same key with a different type counts as a miss.
func Load[T any](c *Cache, key string) (T, bool) {
	return load[T](c, key, 0)
}

func load[T any](c *Cache, key string, maxAge time.Duration) (T, bool) {
	var zero T
	if c == nil || key == "" {
		return zero, false
	}
	e, ok := c.lookup(key, maxAge)
	if !ok {
		return zero, false
	}
	v, ok := e.Result.(T)
	if !ok {
		slog.Debug("cache: type mismatch", slog.String("key", key))
		return zero, false
	}
	return v, true
}

// Store saves v under key.
func Store[T any](c *Cache, key string, v T) {
	if c == nil || key == "" {
		return
	}
	c.store(key, v)
}
