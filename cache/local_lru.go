package cache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lruEntry remembers a deadline shorter than the cache-wide TTL.
type lruEntry struct {
	value    any
	deadline time.Time
}

// LRUCache is a count-bounded local tier over golang-lru's expirable LRU.
// The cache-wide TTL is enforced by the LRU itself. A shorter ttl passed to
// Set is checked on Get.
type LRUCache struct {
	tierCounters
	cache *expirable.LRU[string, lruEntry]
	ttl   time.Duration
}

// NewLRUCache creates a local tier holding at most maxSize entries, each for
// at most ttl. ttl <= 0 disables the cache-wide expiry.
func NewLRUCache(maxSize int, ttl time.Duration) (*LRUCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: LRU size must be positive", ErrInvalidConfig)
	}
	return &LRUCache{
		cache: expirable.NewLRU[string, lruEntry](maxSize, nil, ttl),
		ttl:   ttl,
	}, nil
}

// Get returns the cached value unless it is missing or past its deadline.
func (lc *LRUCache) Get(key string) (any, bool) {
	e, found := lc.cache.Get(key)
	if found && !e.deadline.IsZero() && time.Now().After(e.deadline) {
		lc.cache.Remove(key)
		found = false
	}
	lc.lookup(found)
	if !found {
		return nil, false
	}
	return e.value, true
}

// Set stores value for at most ttl, bounded by the cache-wide expiry.
func (lc *LRUCache) Set(key string, value any, ttl time.Duration) bool {
	e := lruEntry{value: value}
	if ttl > 0 && (lc.ttl <= 0 || ttl < lc.ttl) {
		e.deadline = time.Now().Add(ttl)
	}
	if lc.cache.Add(key, e) {
		lc.evicted()
	}
	return true
}

// Delete removes key.
func (lc *LRUCache) Delete(key string) { lc.cache.Remove(key) }

// Clear drops every entry.
func (lc *LRUCache) Clear() { lc.cache.Purge() }

// Close purges the cache; the LRU holds no goroutines of its own.
func (lc *LRUCache) Close() { lc.cache.Purge() }

// Metrics reports the current entry count as Size.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return lc.metrics(int64(lc.cache.Len()))
}
