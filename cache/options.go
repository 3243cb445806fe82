package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/huykn/region-cache/codec"
)

// Local cache kinds.
const (
	LocalLFU      = "lfu"
	LocalLRU      = "lru"
	LocalBigCache = "bigcache"
)

// LocalCacheConfig configures the local cache of each region.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	// Every entry costs 1, so this bounds the entry count.
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// MaxSize is the maximum number of items in the cache (LRU only).
	MaxSize int

	// Shards is the number of shards (BigCache only). Must be a power of two.
	Shards int

	// HardMaxCacheSizeMB caps memory in megabytes (BigCache only). 0 is unbounded.
	HardMaxCacheSizeMB int
}

// Options configures a Registry and the regions it creates.
type Options struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheKind selects the local tier: "lfu", "lru" or "bigcache".
	LocalCacheKind string

	// LocalCacheConfig configures the local tier.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory overrides LocalCacheKind when set.
	LocalCacheFactory LocalCacheFactory

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// InvalidationChannel is the Redis pub/sub channel for local tier eviction notices.
	InvalidationChannel string

	// EventStream is the Redis stream carrying domain events.
	EventStream string

	// EventGroup is the consumer group reading EventStream.
	EventGroup string

	// EventClaimIdle is how long an event may stay unacknowledged with a
	// consumer of EventGroup before another consumer claims it. 0 disables
	// claiming.
	EventClaimIdle time.Duration

	// SerializationFormat selects the codec body format ("msgpack" or "cbor").
	SerializationFormat string

	// Codec overrides SerializationFormat when set.
	Codec codec.Codec

	// MaxDecodeSize rejects remote payloads larger than this many bytes. 0 disables.
	MaxDecodeSize int

	// KeyPrefix is prepended to every remote key.
	KeyPrefix string

	// DefaultTTL applies to regions without an entry in RegionTTLs.
	DefaultTTL time.Duration

	// RegionTTLs overrides the TTL per region name.
	RegionTTLs map[string]time.Duration

	// RemoteTimeout bounds every remote store call.
	RemoteTimeout time.Duration

	// Logger is the logger for the cache.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds background operations such as subscribing and
	// publishing eviction notices.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		PodID:               uuid.NewString(),
		LocalCacheKind:      LocalLFU,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		InvalidationChannel: "regioncache:invalidate",
		EventStream:         "regioncache:events",
		EventGroup:          "regioncache",
		EventClaimIdle:      30 * time.Second,
		SerializationFormat: codec.FormatMsgpack,
		MaxDecodeSize:       16 << 20,
		KeyPrefix:           "rc:",
		DefaultTTL:          10 * time.Minute,
		RemoteTimeout:       2 * time.Second,
		ContextTimeout:      5 * time.Second,
		DebugMode:           false,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters: 1e6,
		MaxCost:     1e5,
		BufferItems: 64,
		MaxSize:     10000,
		Shards:      256,
	}
}

// TTLFor returns the TTL of the named region.
func (o *Options) TTLFor(region string) time.Duration {
	if ttl, ok := o.RegionTTLs[region]; ok {
		return ttl
	}
	return o.DefaultTTL
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.PodID == "" {
		return invalid("PodID is empty")
	}
	if o.RedisAddr == "" {
		return invalid("RedisAddr is empty")
	}
	if o.InvalidationChannel == "" {
		return invalid("InvalidationChannel is empty")
	}
	if o.Codec == nil && o.SerializationFormat != codec.FormatMsgpack && o.SerializationFormat != codec.FormatCBOR {
		return invalid(fmt.Sprintf("unsupported SerializationFormat %q", o.SerializationFormat))
	}
	if o.DefaultTTL < 0 {
		return invalid("DefaultTTL is negative")
	}
	if o.EventClaimIdle < 0 {
		return invalid("EventClaimIdle is negative")
	}
	for name, ttl := range o.RegionTTLs {
		if err := o.CheckRegionName(name); err != nil {
			return err
		}
		if ttl < 0 {
			return invalid(fmt.Sprintf("TTL of region %q is negative", name))
		}
	}
	if o.LocalCacheFactory != nil {
		return nil
	}
	switch o.LocalCacheKind {
	case LocalLFU:
		if o.LocalCacheConfig.NumCounters <= 0 {
			return invalid("LocalCacheConfig.NumCounters must be positive")
		}
		if o.LocalCacheConfig.MaxCost <= 0 {
			return invalid("LocalCacheConfig.MaxCost must be positive")
		}
	case LocalLRU:
		if o.LocalCacheConfig.MaxSize <= 0 {
			return invalid("LocalCacheConfig.MaxSize must be positive")
		}
	case LocalBigCache:
		if s := o.LocalCacheConfig.Shards; s <= 0 || s&(s-1) != 0 {
			return invalid("LocalCacheConfig.Shards must be a power of two")
		}
	default:
		return invalid(fmt.Sprintf("unsupported LocalCacheKind %q", o.LocalCacheKind))
	}
	return nil
}

// CheckRegionName rejects names that are empty, contain ':' or whose remote
// key space would cover the event stream key.
func (o *Options) CheckRegionName(name string) error {
	if name == "" || strings.Contains(name, ":") {
		return invalid(fmt.Sprintf("invalid region name %q", name))
	}
	if o.EventStream != "" && strings.HasPrefix(o.EventStream, o.KeyPrefix+name+":") {
		return invalid(fmt.Sprintf("region %q with key prefix %q covers event stream %q", name, o.KeyPrefix, o.EventStream))
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, reason)
}

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
