package cache

import (
	"strings"
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// entry stores one cached value with its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL key/value store shared by concurrent readers and writers.
// Expired entries are never returned; a background sweep removes them
// independently of traffic until Close is called.
type Cache[V any] struct {
	ttl      time.Duration
	maxItems int
	now      Clock

	mu    sync.RWMutex
	items map[string]entry[V]

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	sweep    time.Duration
	maxItems int
	clock    Clock
}

// WithSweepInterval sets how often expired entries are purged. Zero disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweep = d }
}

// WithMaxItems caps the number of entries; expired entries are evicted first, then arbitrary ones.
func WithMaxItems(n int) Option {
	return func(o *options) { o.maxItems = n }
}

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a cache whose entries default to ttl and starts its sweep.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{sweep: time.Minute, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[V]{
		ttl:      ttl,
		maxItems: o.maxItems,
		now:      o.clock,
		items:    make(map[string]entry[V]),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if o.sweep > 0 {
		go c.sweep(o.sweep)
	} else {
		close(c.done)
	}
	return c
}

// Get returns the value for key when present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || now.After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under key. A ttl <= 0 uses the cache default.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	c.mu.Lock()
	c.items[key] = entry[V]{value: v, expiresAt: now.Add(ttl)}
	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictLocked(now, key)
	}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix and returns how many were dropped.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *Cache[V]) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included until swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache[V]) sweep(every time.Duration) {
	defer close(c.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Cleanup()
		}
	}
}

// evictLocked trims the map to maxItems, never dropping keep. Caller holds mu.
func (c *Cache[V]) evictLocked(now time.Time, keep string) {
	for k, e := range c.items {
		if len(c.items) <= c.maxItems {
			return
		}
		if k != keep && now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
	for k := range c.items {
		if len(c.items) <= c.maxItems {
			return
		}
		if k != keep {
			delete(c.items, k)
		}
	}
}
