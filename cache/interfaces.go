package cache

import (
	"context"
	"time"

	"github.com/huykn/region-cache/types"
)

// Logger defines the interface for logging in the region cache.
// Args are alternating key/value pairs.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// LocalCache defines the interface for the in-process tier. Implementations
// may drop entries at any time; the local tier is never a source of truth.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value for at most ttl. ttl <= 0 means the cache's own bound.
	// It reports whether the value was admitted.
	Set(key string, value any, ttl time.Duration) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory creates the local tier of one region.
type LocalCacheFactory interface {
	// Create creates a new local cache instance whose entries live at most ttl.
	Create(ttl time.Duration) (LocalCache, error)
}

// Store defines the interface for the shared remote tier (e.g., Redis).
// Every failure other than a missing key is reported as
// types.ErrRemoteUnavailable.
type Store interface {
	// Get retrieves a payload. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a payload with the given ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a payload. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ClearPrefix removes every key starting with prefix.
	ClearPrefix(ctx context.Context, prefix string) error

	// Close closes the store connection.
	Close() error
}

// Synchronizer defines the interface for local tier synchronization across
// processes.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// Loader computes a value on a cache miss.
type Loader func(ctx context.Context) (any, error)

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Action is an alias for types.Action.
type Action = types.Action

// Action constants for cache operations
const (
	ActionSet        = types.Set
	ActionInvalidate = types.Invalidate
	ActionDelete     = types.Delete
	ActionClear      = types.Clear
)

// Stats represents region statistics.
type Stats struct {
	LocalHits     int64
	LocalMisses   int64
	RemoteHits    int64
	RemoteMisses  int64
	Loads         int64
	LoadErrors    int64
	StaleLoads    int64
	Degraded      int64
	Evictions     int64
	Clears        int64
	Invalidations int64
	LocalSize     int64
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		LocalHits:     s.LocalHits + o.LocalHits,
		LocalMisses:   s.LocalMisses + o.LocalMisses,
		RemoteHits:    s.RemoteHits + o.RemoteHits,
		RemoteMisses:  s.RemoteMisses + o.RemoteMisses,
		Loads:         s.Loads + o.Loads,
		LoadErrors:    s.LoadErrors + o.LoadErrors,
		StaleLoads:    s.StaleLoads + o.StaleLoads,
		Degraded:      s.Degraded + o.Degraded,
		Evictions:     s.Evictions + o.Evictions,
		Clears:        s.Clears + o.Clears,
		Invalidations: s.Invalidations + o.Invalidations,
		LocalSize:     s.LocalSize + o.LocalSize,
	}
}
