package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/huykn/region-cache/codec"
)

// NewLocalCacheFactory returns the factory for kind. The codec is only used
// by kinds that hold encoded bytes.
func NewLocalCacheFactory(kind string, config LocalCacheConfig, c codec.Codec) (LocalCacheFactory, error) {
	switch kind {
	case LocalLFU, "", LocalLRU, LocalBigCache:
	default:
		return nil, fmt.Errorf("%w: unsupported LocalCacheKind %q", ErrInvalidConfig, kind)
	}
	if kind == LocalBigCache && c == nil {
		return nil, fmt.Errorf("%w: %s local tier needs a codec", ErrInvalidConfig, kind)
	}
	return &localFactory{kind: kind, config: config, codec: c}, nil
}

type localFactory struct {
	kind   string
	config LocalCacheConfig
	codec  codec.Codec
}

func (f *localFactory) Create(ttl time.Duration) (LocalCache, error) {
	switch f.kind {
	case LocalLRU:
		return NewLRUCache(f.config.MaxSize, ttl)
	case LocalBigCache:
		return NewBigCacheLocal(f.config, f.codec, ttl)
	default:
		return NewLFUCache(f.config, ttl)
	}
}

// LocalCacheFactoryFunc adapts a function to LocalCacheFactory.
type LocalCacheFactoryFunc func(ttl time.Duration) (LocalCache, error)

// Create calls f.
func (f LocalCacheFactoryFunc) Create(ttl time.Duration) (LocalCache, error) {
	return f(ttl)
}

// tierCounters is embedded by the local tier adapters.
type tierCounters struct {
	hits      int64
	misses    int64
	evictions int64
}

func (c *tierCounters) lookup(found bool) {
	if found {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
}

func (c *tierCounters) evicted() { atomic.AddInt64(&c.evictions, 1) }

func (c *tierCounters) metrics(size int64) LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      size,
	}
}

// boundTTL returns the lifetime of an entry asked to live ttl in a tier whose
// entries live at most limit. Zero means unbounded on both sides.
func boundTTL(ttl, limit time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return limit
	case limit > 0 && ttl > limit:
		return limit
	default:
		return ttl
	}
}
