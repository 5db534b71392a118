// Package cache provides a size-bounded LRU cache with TTL expiry and
// de-duplicated loading. It backs the process-wide reference dataset cache.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LRUWithTTL is a thread-safe LRU cache whose entries expire after ttl.
// A zero ttl disables expiry.
type LRUWithTTL[K comparable, V any] struct {
	cache *lru.Cache[K, *ttlEntry[V]]
	ttl   time.Duration
	group singleflight.Group

	mu      sync.Mutex
	hits    uint64
	misses  uint64
	evicted uint64
	loads   uint64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewLRUWithTTL creates a cache holding at most size entries.
//
// Example:
//
//	frames, err := NewLRUWithTTL[string, *dataset.Frame](4, 30*time.Minute)
//	if err != nil {
//	    return err
//	}
//	f, err := frames.GetOrLoad(path, dataset.Load)
func NewLRUWithTTL[K comparable, V any](size int, ttl time.Duration) (*LRUWithTTL[K, V], error) {
	c, err := lru.New[K, *ttlEntry[V]](size)
	if err != nil {
		return nil, err
	}
	return &LRUWithTTL[K, V]{cache: c, ttl: ttl}, nil
}

func (c *LRUWithTTL[K, V]) expired(e *ttlEntry[V], now time.Time) bool {
	return c.ttl > 0 && now.After(e.expiresAt)
}

// Get returns the live value for key.
func (c *LRUWithTTL[K, V]) Get(key K) (V, bool) {
	entry, ok := c.cache.Get(key)
	if ok && c.expired(entry, time.Now()) {
		c.cache.Remove(key)
		ok = false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return entry.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRUWithTTL[K, V]) Set(key K, value V) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if c.cache.Add(key, &ttlEntry[V]{value: value, expiresAt: expiresAt}) {
		c.mu.Lock()
		c.evicted++
		c.mu.Unlock()
	}
}

// GetOrLoad returns the cached value for key or calls load once, even when
// several goroutines miss at the same time. Load errors are not cached.
func (c *LRUWithTTL[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		// another caller may have filled the entry while we waited
		if e, ok := c.cache.Peek(key); ok && !c.expired(e, time.Now()) {
			return e.value, nil
		}
		v, err := load(key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.loads++
		c.mu.Unlock()
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// Delete removes key.
func (c *LRUWithTTL[K, V]) Delete(key K) {
	c.cache.Remove(key)
}

// Len returns the number of entries, expired ones included.
func (c *LRUWithTTL[K, V]) Len() int {
	return c.cache.Len()
}

// Clear removes every entry.
func (c *LRUWithTTL[K, V]) Clear() {
	c.cache.Purge()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Evicted uint64  `json:"evicted"`
	Loads   uint64  `json:"loads"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns current counters.
func (c *LRUWithTTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Evicted: c.evicted,
		Loads:   c.loads,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// CleanupExpired drops expired entries and returns how many were removed.
// It is O(n) and meant for a periodic janitor.
func (c *LRUWithTTL[K, V]) CleanupExpired() int {
	if c.ttl == 0 {
		return 0
	}

	now := time.Now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && now.After(e.expiresAt) {
			c.cache.Remove(key)
			removed++
		}
	}
	return removed
}
