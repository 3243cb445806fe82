package regioncache

import (
	"time"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/codec"
	"github.com/huykn/region-cache/invalidation"
	cachesync "github.com/huykn/region-cache/sync"
)

// Config configures a region cache instance.
type Config struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to avoid self-invalidation in pub/sub and to name this process
	// in the event consumer group.
	PodID string

	// LocalCacheKind selects the local tier: "lfu", "lru" or "bigcache".
	LocalCacheKind string

	// LocalCacheConfig configures the local cache.
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

	// EventStream and EventGroup locate the domain event stream.
	EventStream string
	EventGroup  string

	// EventClaimIdle is how long an unacknowledged event waits before
	// another consumer of EventGroup claims it. 0 disables claiming.
	EventClaimIdle time.Duration

	// SerializationFormat specifies how values are serialized ("msgpack" or "cbor").
	SerializationFormat string

	// Codec overrides SerializationFormat when set.
	Codec codec.Codec

	// MaxDecodeSize rejects larger remote payloads. 0 disables the check.
	MaxDecodeSize int

	// KeyPrefix is prepended to every remote key.
	KeyPrefix string

	// DefaultTTL and RegionTTLs bound how long entries live in both tiers.
	DefaultTTL time.Duration
	RegionTTLs map[string]time.Duration

	// RemoteTimeout bounds every Redis call of the remote tier.
	RemoteTimeout time.Duration

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout is the default timeout for background operations.
	ContextTimeout time.Duration

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// Options converts cfg to cache.Options.
func (cfg Config) Options() cache.Options {
	return cache.Options{
		PodID:               cfg.PodID,
		LocalCacheKind:      cfg.LocalCacheKind,
		LocalCacheConfig:    cfg.LocalCacheConfig,
		LocalCacheFactory:   cfg.LocalCacheFactory,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		RedisDB:             cfg.RedisDB,
		InvalidationChannel: cfg.InvalidationChannel,
		EventStream:         cfg.EventStream,
		EventGroup:          cfg.EventGroup,
		EventClaimIdle:      cfg.EventClaimIdle,
		SerializationFormat: cfg.SerializationFormat,
		Codec:               cfg.Codec,
		MaxDecodeSize:       cfg.MaxDecodeSize,
		KeyPrefix:           cfg.KeyPrefix,
		DefaultTTL:          cfg.DefaultTTL,
		RegionTTLs:          cfg.RegionTTLs,
		RemoteTimeout:       cfg.RemoteTimeout,
		Logger:              cfg.Logger,
		DebugMode:           cfg.DebugMode,
		ContextTimeout:      cfg.ContextTimeout,
		OnError:             cfg.OnError,
	}
}

// New creates a Registry backed by Redis.
// This is the root-level initialization function that allows users to import from the root package.
func New(cfg Config) (*Registry, error) {
	return cache.New(cfg.Options())
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	opts := cache.DefaultOptions()
	return Config{
		PodID:               opts.PodID,
		LocalCacheKind:      opts.LocalCacheKind,
		LocalCacheConfig:    opts.LocalCacheConfig,
		RedisAddr:           opts.RedisAddr,
		RedisDB:             opts.RedisDB,
		InvalidationChannel: opts.InvalidationChannel,
		EventStream:         opts.EventStream,
		EventGroup:          opts.EventGroup,
		EventClaimIdle:      opts.EventClaimIdle,
		SerializationFormat: opts.SerializationFormat,
		MaxDecodeSize:       opts.MaxDecodeSize,
		KeyPrefix:           opts.KeyPrefix,
		DefaultTTL:          opts.DefaultTTL,
		RemoteTimeout:       opts.RemoteTimeout,
		ContextTimeout:      opts.ContextTimeout,
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// NewDispatcher returns a Dispatcher of rules that evicts through reg and
// carries affected-scope work on reg's Redis event stream. A nil rules uses
// invalidation.DefaultMap. With a non-Redis store the affected targets are
// evicted inline.
func NewDispatcher(reg *Registry, rules *invalidation.Map) *invalidation.Dispatcher {
	if rules == nil {
		rules = invalidation.DefaultMap()
	}
	opts := reg.Options()
	dopts := []invalidation.Option{
		invalidation.WithSender(opts.PodID),
		invalidation.WithLogger(opts.Logger),
	}
	if client := reg.RedisClient(); client != nil {
		bus := cachesync.NewStreamBus(client, opts.EventStream, opts.EventGroup, opts.PodID,
			cachesync.WithClaimIdle(opts.EventClaimIdle),
			cachesync.WithErrorHandler(func(err error) {
				opts.Logger.Warn("Events: consumer error", "error", err)
				if opts.OnError != nil {
					opts.OnError(err)
				}
			}))
		dopts = append(dopts, invalidation.WithBus(bus))
	}
	return invalidation.NewDispatcher(rules, reg, dopts...)
}
