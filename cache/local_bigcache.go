package cache

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/huykn/region-cache/codec"
)

// lifeWindow used when a region has no TTL.
const bigCacheNoExpiry = 24 * time.Hour

// BigCacheLocal is a local cache storing encoded values off the GC-scanned
// heap. Every Get decodes a fresh copy, so callers never share objects through
// it. The TTL is cache-wide.
type BigCacheLocal struct {
	tierCounters
	cache *bigcache.BigCache
	codec codec.Codec
}

// NewBigCacheLocal creates a BigCache-backed local cache.
func NewBigCacheLocal(config LocalCacheConfig, c codec.Codec, ttl time.Duration) (*BigCacheLocal, error) {
	if c == nil {
		return nil, errors.New("cache: bigcache local tier needs a codec")
	}
	if ttl <= 0 {
		ttl = bigCacheNoExpiry
	}
	bl := &BigCacheLocal{codec: c}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Verbose = false
	cfg.StatsEnabled = false
	if config.Shards > 0 {
		cfg.Shards = config.Shards
	}
	if config.MaxSize > 0 {
		// Sizes the initial shard allocation.
		cfg.MaxEntriesInWindow = config.MaxSize
		cfg.MaxEntrySize = 256
	}
	cfg.HardMaxCacheSize = config.HardMaxCacheSizeMB
	if ttl < cfg.CleanWindow {
		cfg.CleanWindow = ttl
	}
	cfg.OnRemoveWithReason = func(key string, entry []byte, reason bigcache.RemoveReason) {
		if reason != bigcache.Deleted {
			bl.evicted()
		}
	}

	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	bl.cache = cache
	return bl, nil
}

// Get retrieves and decodes a value.
func (bl *BigCacheLocal) Get(key string) (any, bool) {
	data, err := bl.cache.Get(key)
	if err != nil {
		bl.lookup(false)
		return nil, false
	}
	value, err := bl.codec.Decode(data)
	if err != nil || value == nil {
		// Undecodable entries are dropped; the remote tier still has them.
		_ = bl.cache.Delete(key)
		bl.lookup(false)
		return nil, false
	}
	bl.lookup(true)
	return value, true
}

// Set encodes and stores a value. Values the codec cannot encode are not
// admitted.
func (bl *BigCacheLocal) Set(key string, value any, _ time.Duration) bool {
	data, err := bl.codec.Encode(value)
	if err != nil {
		return false
	}
	return bl.cache.Set(key, data) == nil
}

// Delete removes a value from the local cache.
func (bl *BigCacheLocal) Delete(key string) {
	_ = bl.cache.Delete(key)
}

// Clear removes all values from the local cache.
func (bl *BigCacheLocal) Clear() {
	_ = bl.cache.Reset()
}

// Close closes the local cache.
func (bl *BigCacheLocal) Close() {
	_ = bl.cache.Close()
}

// Metrics returns cache metrics.
func (bl *BigCacheLocal) Metrics() LocalCacheMetrics {
	return bl.metrics(int64(bl.cache.Len()))
}
