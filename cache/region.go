package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/huykn/region-cache/codec"
	"github.com/huykn/region-cache/types"
)

// Region is a named key space backed by a local tier and the shared remote
// tier. It implements read-through, write-through, single-flight loading and
// eviction across both tiers. A Region is safe for concurrent use.
type Region struct {
	name    string
	ttl     time.Duration
	prefix  string
	local   LocalCache
	store   Store
	codec   codec.Codec
	syncer  Synchronizer
	logger  Logger
	options *Options
	flights *flights
	closed  int32
	stats   Stats
}

func newRegion(name string, local LocalCache, store Store, c codec.Codec, syncer Synchronizer, opts *Options) *Region {
	logger := opts.Logger
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Region{
		name:    name,
		ttl:     opts.TTLFor(name),
		prefix:  opts.KeyPrefix + name + ":",
		local:   local,
		store:   store,
		codec:   c,
		syncer:  syncer,
		logger:  logger,
		options: opts,
		flights: newFlights(),
	}
}

// Name returns the region name.
func (r *Region) Name() string { return r.name }

// TTL returns the TTL applied to entries of this region.
func (r *Region) TTL() time.Duration { return r.ttl }

// RemoteKey returns the remote store key of key.
func (r *Region) RemoteKey(key string) string { return r.prefix + key }

// Get returns the cached value of key, checking the local tier, then the
// remote tier. It never invokes a loader. A remote failure is reported as a
// miss; a payload that cannot be decoded is reported as
// types.ErrSerializationFailure.
func (r *Region) Get(ctx context.Context, key string) (any, bool, error) {
	if atomic.LoadInt32(&r.closed) != 0 {
		return nil, false, ErrCacheClosed
	}

	if r.options.DebugMode {
		r.logger.Debug("Get: attempting to retrieve key", "region", r.name, "key", key)
	}

	if value, found := r.local.Get(key); found {
		atomic.AddInt64(&r.stats.LocalHits, 1)
		return value, true, nil
	}
	atomic.AddInt64(&r.stats.LocalMisses, 1)

	value, found, err := r.readThrough(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrRemoteUnavailable) {
			r.degraded("Get", key, err)
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, found, nil
}

// GetBypassLocal reads key from the remote tier only and refreshes the local
// copy with the result. Unlike Get it reports remote failures to the caller.
func (r *Region) GetBypassLocal(ctx context.Context, key string) (any, bool, error) {
	if atomic.LoadInt32(&r.closed) != 0 {
		return nil, false, ErrCacheClosed
	}
	value, found, err := r.readThrough(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		r.local.Delete(key)
	}
	return value, found, nil
}

// GetOrLoad returns the cached value of key or, on a miss in both tiers,
// the result of loader, which is then written to the remote and local tiers.
// Concurrent callers for the same key share one loader call. A caller whose
// ctx ends stops waiting; the load itself runs to completion for the others.
//
// Loader errors are returned verbatim and nothing is cached. If the remote
// tier is unavailable the loader result is returned without caching it.
func (r *Region) GetOrLoad(ctx context.Context, key string, loader Loader) (any, error) {
	if atomic.LoadInt32(&r.closed) != 0 {
		return nil, ErrCacheClosed
	}

	if value, found := r.local.Get(key); found {
		atomic.AddInt64(&r.stats.LocalHits, 1)
		if r.options.DebugMode {
			r.logger.Debug("GetOrLoad: found in local cache", "region", r.name, "key", key)
		}
		return value, nil
	}
	atomic.AddInt64(&r.stats.LocalMisses, 1)

	loadCtx := context.WithoutCancel(ctx)
	ch := r.flights.group.DoChan(key, func() (any, error) {
		return r.load(loadCtx, key, loader)
	})

	select {
	case res := <-ch:
		if res.Shared && r.options.DebugMode {
			r.logger.Debug("GetOrLoad: shared in-flight load", "region", r.name, "key", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetOrLoadTyped is GetOrLoad with a typed loader and result. A cached value
// of another type is reported as types.ErrSerializationFailure.
func GetOrLoadTyped[T any](ctx context.Context, r *Region, key string, loader func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := r.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: region %s key %s holds %T, want %T",
			types.ErrSerializationFailure, r.name, key, v, zero)
	}
	return t, nil
}

// load runs as the single-flight leader for key.
func (r *Region) load(ctx context.Context, key string, loader Loader) (any, error) {
	t := r.flights.begin(key)
	defer r.flights.end(key, t)

	value, found, err := r.fetchRemote(ctx, key)
	switch {
	case err == nil && found:
		t.commit(func() { r.local.Set(key, value, r.ttl) })
		return value, nil
	case errors.Is(err, types.ErrRemoteUnavailable):
		r.degraded("GetOrLoad", key, err)
		return r.callLoader(ctx, key, loader)
	case err != nil:
		return nil, err
	}

	value, err = r.callLoader(ctx, key, loader)
	if err != nil || value == nil {
		return value, err
	}

	payload, err := r.codec.Encode(value)
	if err != nil {
		r.logger.Error("GetOrLoad: serialization failed", "region", r.name, "key", key, "error", err)
		r.reportError(err)
		return nil, err
	}

	var setErr error
	committed := t.commit(func() {
		if setErr = r.store.Set(ctx, r.RemoteKey(key), payload, r.ttl); setErr != nil {
			return
		}
		r.local.Set(key, value, r.ttl)
	})
	if !committed {
		atomic.AddInt64(&r.stats.StaleLoads, 1)
		r.logger.Warn("GetOrLoad: key evicted during load, result not cached", "region", r.name, "key", key)
		return value, nil
	}
	if setErr != nil {
		r.degraded("GetOrLoad", key, setErr)
		return value, nil
	}

	if r.options.DebugMode {
		r.logger.Debug("GetOrLoad: loaded and stored", "region", r.name, "key", key)
	}
	return value, nil
}

func (r *Region) callLoader(ctx context.Context, key string, loader Loader) (value any, err error) {
	atomic.AddInt64(&r.stats.Loads, 1)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cache: loader for %s/%s panicked: %v", r.name, key, p)
		}
		if err != nil {
			atomic.AddInt64(&r.stats.LoadErrors, 1)
			if r.options.DebugMode {
				r.logger.Debug("GetOrLoad: loader failed", "region", r.name, "key", key, "error", err)
			}
		}
	}()
	return loader(ctx)
}

// readThrough reads key from the remote tier and backfills the local tier
// unless the key was evicted meanwhile.
func (r *Region) readThrough(ctx context.Context, key string) (any, bool, error) {
	t := r.flights.begin(key)
	defer r.flights.end(key, t)

	value, found, err := r.fetchRemote(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	t.commit(func() { r.local.Set(key, value, r.ttl) })
	return value, true, nil
}

// fetchRemote reads and decodes key from the remote tier. An empty payload
// is absence. A payload that fails to decode is removed so the next read
// reloads it.
func (r *Region) fetchRemote(ctx context.Context, key string) (any, bool, error) {
	data, found, err := r.store.Get(ctx, r.RemoteKey(key))
	if err != nil {
		return nil, false, err
	}
	if !found {
		atomic.AddInt64(&r.stats.RemoteMisses, 1)
		if r.options.DebugMode {
			r.logger.Debug("Get: not found in remote cache", "region", r.name, "key", key)
		}
		return nil, false, nil
	}

	value, err := r.codec.Decode(data)
	if err != nil {
		r.logger.Error("Get: deserialization failed", "region", r.name, "key", key, "error", err)
		r.reportError(err)
		if delErr := r.store.Delete(ctx, r.RemoteKey(key)); delErr != nil {
			r.logger.Warn("Get: failed to drop undecodable entry", "region", r.name, "key", key, "error", delErr)
		}
		return nil, false, err
	}
	if value == nil {
		atomic.AddInt64(&r.stats.RemoteMisses, 1)
		return nil, false, nil
	}

	atomic.AddInt64(&r.stats.RemoteHits, 1)
	if r.options.DebugMode {
		r.logger.Debug("Get: found in remote cache", "region", r.name, "key", key)
	}
	return value, true, nil
}

// Put writes value to the remote tier, then the local tier. Putting nil
// evicts the key. A remote failure is returned and the local tier is left
// untouched.
func (r *Region) Put(ctx context.Context, key string, value any) error {
	if atomic.LoadInt32(&r.closed) != 0 {
		return ErrCacheClosed
	}
	if value == nil {
		return r.Evict(ctx, key)
	}

	if r.options.DebugMode {
		r.logger.Debug("Put: storing value", "region", r.name, "key", key)
	}

	payload, err := r.codec.Encode(value)
	if err != nil {
		r.logger.Error("Put: serialization failed", "region", r.name, "key", key, "error", err)
		r.reportError(err)
		return err
	}

	// Loads that started before the write must not land after it.
	r.flights.invalidate(key)
	if err := r.store.Set(ctx, r.RemoteKey(key), payload, r.ttl); err != nil {
		r.logger.Error("Put: failed to store in remote cache", "region", r.name, "key", key, "error", err)
		r.reportError(err)
		return err
	}
	r.flights.invalidate(key)
	r.local.Set(key, value, r.ttl)

	r.publish(ctx, ActionInvalidate, key)
	return nil
}

// Evict removes key from both tiers. When it returns nil, every Get in this
// process that starts afterwards misses until the key is written again.
// The local copy is dropped even if the remote delete fails.
func (r *Region) Evict(ctx context.Context, key string) error {
	if atomic.LoadInt32(&r.closed) != 0 {
		return ErrCacheClosed
	}

	if r.options.DebugMode {
		r.logger.Debug("Evict: removing key", "region", r.name, "key", key)
	}

	r.flights.invalidate(key)
	err := r.store.Delete(ctx, r.RemoteKey(key))
	// Reads that began before the remote delete may hold the old value.
	r.flights.invalidate(key)
	r.local.Delete(key)
	if err != nil {
		r.logger.Error("Evict: failed to remove from remote cache", "region", r.name, "key", key, "error", err)
		r.reportError(err)
		return err
	}
	atomic.AddInt64(&r.stats.Evictions, 1)

	r.publish(ctx, ActionDelete, key)
	return nil
}

// Clear removes every key of the region from both tiers.
func (r *Region) Clear(ctx context.Context) error {
	if atomic.LoadInt32(&r.closed) != 0 {
		return ErrCacheClosed
	}

	if r.options.DebugMode {
		r.logger.Debug("Clear: clearing region", "region", r.name)
	}

	r.flights.invalidateAll()
	err := r.store.ClearPrefix(ctx, r.prefix)
	r.flights.invalidateAll()
	r.local.Clear()
	if err != nil {
		r.logger.Error("Clear: failed to clear remote cache", "region", r.name, "error", err)
		r.reportError(err)
		return err
	}
	atomic.AddInt64(&r.stats.Clears, 1)

	r.publish(ctx, ActionClear, "")
	return nil
}

// publish tells peers to drop their local copies. The remote tier is already
// authoritative, so failures are only logged.
func (r *Region) publish(ctx context.Context, action Action, key string) {
	if r.syncer == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	if r.options.ContextTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, r.options.ContextTimeout)
		defer cancel()
	}

	event := InvalidationEvent{
		Region: r.name,
		Key:    key,
		Sender: r.options.PodID,
		Action: action,
	}
	if err := r.syncer.Publish(pctx, event); err != nil {
		r.reportError(err)
		r.logger.Warn("failed to publish invalidation event", "region", r.name, "key", key, "action", action, "error", err)
	} else if r.options.DebugMode {
		r.logger.Debug("published invalidation event", "region", r.name, "key", key, "action", action)
	}
}

// handleInvalidation applies an event published by a peer.
func (r *Region) handleInvalidation(event InvalidationEvent) {
	if r.options.DebugMode {
		r.logger.Info("Received synchronization event", "region", r.name, "action", event.Action, "key", event.Key, "sender", event.Sender)
	}

	switch event.Action {
	case ActionSet, ActionInvalidate, ActionDelete:
		r.flights.invalidate(event.Key)
		r.local.Delete(event.Key)
		atomic.AddInt64(&r.stats.Invalidations, 1)

	case ActionClear:
		r.flights.invalidateAll()
		r.local.Clear()
		atomic.AddInt64(&r.stats.Invalidations, 1)

	default:
		r.logger.Warn("Sync: unknown action", "region", r.name, "action", event.Action, "key", event.Key, "sender", event.Sender)
	}
}

func (r *Region) degraded(op, key string, err error) {
	atomic.AddInt64(&r.stats.Degraded, 1)
	r.reportError(err)
	r.logger.Warn(op+": remote tier unavailable, serving from source without caching",
		"region", r.name, "key", key, "error", err)
}

func (r *Region) reportError(err error) {
	if r.options.OnError != nil {
		r.options.OnError(err)
	}
}

// Stats returns region statistics.
func (r *Region) Stats() Stats {
	return Stats{
		LocalHits:     atomic.LoadInt64(&r.stats.LocalHits),
		LocalMisses:   atomic.LoadInt64(&r.stats.LocalMisses),
		RemoteHits:    atomic.LoadInt64(&r.stats.RemoteHits),
		RemoteMisses:  atomic.LoadInt64(&r.stats.RemoteMisses),
		Loads:         atomic.LoadInt64(&r.stats.Loads),
		LoadErrors:    atomic.LoadInt64(&r.stats.LoadErrors),
		StaleLoads:    atomic.LoadInt64(&r.stats.StaleLoads),
		Degraded:      atomic.LoadInt64(&r.stats.Degraded),
		Evictions:     atomic.LoadInt64(&r.stats.Evictions),
		Clears:        atomic.LoadInt64(&r.stats.Clears),
		Invalidations: atomic.LoadInt64(&r.stats.Invalidations),
		LocalSize:     r.local.Metrics().Size,
	}
}

// close releases the local tier. The registry owns the remote store.
func (r *Region) close() {
	if atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		r.local.Close()
	}
}

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = NewError("cache is closed")
