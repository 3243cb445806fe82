package cache

import (
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCache is the default local tier: a Ristretto cache with TinyLFU
// admission. Every entry costs 1, so MaxCost bounds the entry count.
type LFUCache struct {
	tierCounters
	cache *lfu.Cache
	ttl   time.Duration
}

// NewLFUCache creates a local tier whose entries live at most ttl.
func NewLFUCache(config LocalCacheConfig, ttl time.Duration) (*LFUCache, error) {
	lc := &LFUCache{ttl: ttl}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: true,
		OnEvict:            func(*lfu.Item) { lc.evicted() },
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache
	return lc, nil
}

// Get returns the cached value and whether it was present.
func (lc *LFUCache) Get(key string) (any, bool) {
	value, found := lc.cache.Get(key)
	lc.lookup(found)
	return value, found
}

// Set may be refused by the admission policy. Ristretto applies writes
// asynchronously, so Set waits for its buffers and a following Get sees the
// value.
func (lc *LFUCache) Set(key string, value any, ttl time.Duration) bool {
	ok := lc.cache.SetWithTTL(key, value, 1, boundTTL(ttl, lc.ttl))
	lc.cache.Wait()
	return ok
}

// Delete removes key.
func (lc *LFUCache) Delete(key string) { lc.cache.Del(key) }

// Clear drops every entry.
func (lc *LFUCache) Clear() { lc.cache.Clear() }

// Close stops ristretto's background goroutines.
func (lc *LFUCache) Close() { lc.cache.Close() }

// Metrics reports the configured capacity as Size.
func (lc *LFUCache) Metrics() LocalCacheMetrics {
	return lc.metrics(lc.cache.MaxCost())
}
