// Package cache is the memcache of the blog: rendered pages, aggregate lists
// and counter totals live here in front of the datastore.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bloog",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Cache lookups by backend and result",
}, []string{"backend", "result"})

// Cache stores opaque values with a TTL. A zero TTL means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	// Incr adds delta to an integer value, only if the key already exists.
	Incr(ctx context.Context, key string, delta int64) (int64, bool)
	// SetIfAbsent stores value only when key holds nothing.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Stats() Stats
}

// Stats holds cache counters since start.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int
}

// GetJSON decodes the cached value of key into dst.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// SetJSON encodes v and caches it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(ctx, key, b, ttl)
	return nil
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// DefaultMaxEntries bounds a MemoryCache built by NewMemoryCache.
const DefaultMaxEntries = 10000

// MemoryCache is an in-process Cache. Past its size bound the least
// recently used entry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache returns an in-process cache of DefaultMaxEntries entries.
// When cleanup is positive a janitor goroutine drops expired entries at
// that interval until Close.
func NewMemoryCache(cleanup time.Duration) *MemoryCache {
	return NewBoundedMemoryCache(cleanup, DefaultMaxEntries)
}

// NewBoundedMemoryCache is NewMemoryCache holding at most maxEntries
// entries; a non-positive bound means DefaultMaxEntries.
func NewBoundedMemoryCache(cleanup time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, _ := lru.New[string, *entry](maxEntries)
	c := &MemoryCache{entries: entries, stop: make(chan struct{})}
	if cleanup > 0 {
		go c.janitor(cleanup)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok || e.expired(time.Now()) {
		c.stats.Misses++
		lookups.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	c.stats.Hits++
	lookups.WithLabelValues("memory", "hit").Inc()
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = time.Now().Add(ttl)
	}
	if c.entries.Add(key, e) {
		c.stats.Evictions++
	}
	c.stats.Sets++
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.entries.Remove(k)
	}
}

func (c *MemoryCache) Incr(_ context.Context, key string, delta int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(key)
	if !ok || e.expired(time.Now()) {
		return 0, false
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, false
	}
	n += delta
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, true
}

// SetIfAbsent stores value unless a live entry exists under key, and
// reports whether it did.
func (c *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries.Peek(key); ok && !e.expired(time.Now()) {
		return false
	}
	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiration = time.Now().Add(ttl)
	}
	if c.entries.Add(key, e) {
		c.stats.Evictions++
	}
	c.stats.Sets++
	return true
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.entries.Len()
	return s
}

// Close stops the janitor.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *MemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	n := 0
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.expired(now) {
			c.entries.Remove(k)
			n++
		}
	}
	return n
}

type noOpCache struct{}

// NewNoOpCache returns a cache that never holds anything.
func NewNoOpCache() Cache { return noOpCache{} }

func (noOpCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (noOpCache) Set(context.Context, string, []byte, time.Duration) {}
func (noOpCache) Delete(context.Context, ...string) {}
func (noOpCache) Incr(context.Context, string, int64) (int64, bool) { return 0, false }
func (noOpCache) SetIfAbsent(context.Context, string, []byte, time.Duration) bool {
	return false
}
func (noOpCache) Stats() Stats { return Stats{} }
