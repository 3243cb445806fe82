package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/region-cache/codec"
	"github.com/huykn/region-cache/storage"
	cachesync "github.com/huykn/region-cache/sync"
)

// Registry creates one Region per name on first use and returns the same
// instance for every later lookup. All regions share the registry's remote
// store, codec and synchronizer; each has its own local tier.
type Registry struct {
	options Options
	store   Store
	syncer  Synchronizer
	codec   codec.Codec
	factory LocalCacheFactory
	logger  Logger
	client  redis.UniversalClient
	closed  int32
	mu      sync.Mutex
	regions map[string]*Region
}

// New creates a Registry backed by Redis: a RedisStore for the remote tier
// and a PubSubSynchronizer for peer eviction notices.
func New(opts Options) (*Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB,
		storage.WithOpTimeout(opts.RemoteTimeout))
	if err != nil {
		return nil, err
	}

	synchronizer := cachesync.NewPubSubSynchronizer(store.GetClient(), opts.InvalidationChannel, opts.PodID,
		cachesync.WithNoticeErrors(func(err error) {
			if opts.Logger != nil {
				opts.Logger.Warn("Sync: malformed notice", "error", err)
			}
			if opts.OnError != nil {
				opts.OnError(err)
			}
		}))

	reg, err := NewRegistry(opts, store, synchronizer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return reg, nil
}

// NewRegistry creates a Registry over the given store and synchronizer and
// takes ownership of both. synchronizer may be nil for a single process.
func NewRegistry(opts Options, store Store, synchronizer Synchronizer) (*Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}

	// Set defaults for optional fields
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Codec == nil {
		c, err := codec.New(opts.SerializationFormat, codec.WithMaxDecode(opts.MaxDecodeSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		opts.Codec = c
	}
	if opts.LocalCacheFactory == nil {
		f, err := NewLocalCacheFactory(opts.LocalCacheKind, opts.LocalCacheConfig, opts.Codec)
		if err != nil {
			return nil, err
		}
		opts.LocalCacheFactory = f
	}

	reg := &Registry{
		options: opts,
		store:   store,
		syncer:  synchronizer,
		codec:   opts.Codec,
		factory: opts.LocalCacheFactory,
		logger:  opts.Logger,
		regions: make(map[string]*Region),
	}
	if rs, ok := store.(*storage.RedisStore); ok {
		reg.client = rs.GetClient()
	}

	if synchronizer != nil {
		synchronizer.OnInvalidate(reg.route)

		ctx := context.Background()
		if opts.ContextTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.ContextTimeout)
			defer cancel()
		}
		if err := synchronizer.Subscribe(ctx); err != nil {
			_ = synchronizer.Close()
			return nil, err
		}
	}

	return reg, nil
}

// Region returns the region named name, creating it on first use. Names must
// be non-empty and must not contain ':', which separates the region from the
// key in remote keys. A region whose keys would cover the event stream is
// rejected, so Clear can never remove the stream.
func (g *Registry) Region(name string) (*Region, error) {
	if atomic.LoadInt32(&g.closed) != 0 {
		return nil, ErrCacheClosed
	}
	if err := g.options.CheckRegionName(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.regions[name]; ok {
		return r, nil
	}

	local, err := g.factory.Create(g.options.TTLFor(name))
	if err != nil {
		return nil, fmt.Errorf("cache: create local tier for region %s: %w", name, err)
	}
	r := newRegion(name, local, g.store, g.codec, g.syncer, &g.options)
	g.regions[name] = r

	if g.options.DebugMode {
		g.logger.Debug("Registry: created region", "region", name, "ttl", r.TTL())
	}
	return r, nil
}

// MustRegion is like Region but panics on error.
func (g *Registry) MustRegion(name string) *Region {
	r, err := g.Region(name)
	if err != nil {
		panic(err)
	}
	return r
}

// Regions returns the names of the regions created so far, sorted.
func (g *Registry) Regions() []string {
	g.mu.Lock()
	names := make([]string, 0, len(g.regions))
	for name := range g.regions {
		names = append(names, name)
	}
	g.mu.Unlock()
	sort.Strings(names)
	return names
}

// Evict evicts key from the named region.
func (g *Registry) Evict(ctx context.Context, region, key string) error {
	r, err := g.Region(region)
	if err != nil {
		return err
	}
	return r.Evict(ctx, key)
}

// Clear clears the named region.
func (g *Registry) Clear(ctx context.Context, region string) error {
	r, err := g.Region(region)
	if err != nil {
		return err
	}
	return r.Clear(ctx)
}

// Stats returns the statistics of every region created so far.
func (g *Registry) Stats() map[string]Stats {
	g.mu.Lock()
	regions := make([]*Region, 0, len(g.regions))
	for _, r := range g.regions {
		regions = append(regions, r)
	}
	g.mu.Unlock()

	out := make(map[string]Stats, len(regions))
	for _, r := range regions {
		out[r.Name()] = r.Stats()
	}
	return out
}

// Options returns the effective options.
func (g *Registry) Options() Options { return g.options }

// Codec returns the codec shared by all regions.
func (g *Registry) Codec() codec.Codec { return g.codec }

// RedisClient returns the Redis client behind the remote store, or nil when
// the store is not Redis.
func (g *Registry) RedisClient() redis.UniversalClient { return g.client }

// Close closes every region, the synchronizer and the store.
func (g *Registry) Close() error {
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return nil
	}

	var errs []error
	if g.syncer != nil {
		if err := g.syncer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	g.mu.Lock()
	for _, r := range g.regions {
		r.close()
	}
	g.mu.Unlock()

	if err := g.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// route hands a peer event to the region it names. Regions this process has
// never used hold nothing locally, so their events are dropped.
func (g *Registry) route(event InvalidationEvent) {
	g.mu.Lock()
	r, ok := g.regions[event.Region]
	g.mu.Unlock()
	if !ok {
		if g.options.DebugMode {
			g.logger.Debug("Sync: event for unused region", "region", event.Region, "key", event.Key)
		}
		return
	}
	r.handleInvalidation(event)
}
