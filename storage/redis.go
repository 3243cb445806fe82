package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/region-cache/types"
)

const (
	defaultOpTimeout = 2 * time.Second
	defaultScanCount = 500
)

// RedisStore implements the remote tier using Redis. Values are opaque byte
// payloads; TTLs are enforced by Redis.
type RedisStore struct {
	client      redis.UniversalClient
	opTimeout   time.Duration
	scanCount   int64
	closeClient bool
}

// StoreOption configures a RedisStore.
type StoreOption func(*RedisStore)

// WithOpTimeout bounds every Redis round trip. A timed out call reports
// ErrRemoteUnavailable. Zero disables the per-call bound.
func WithOpTimeout(d time.Duration) StoreOption {
	return func(rs *RedisStore) { rs.opTimeout = d }
}

// WithScanCount sets the SCAN batch hint used by ClearPrefix.
func WithScanCount(n int64) StoreOption {
	return func(rs *RedisStore) {
		if n > 0 {
			rs.scanCount = n
		}
	}
}

// NewRedisStore creates a new Redis-based store that owns its client.
func NewRedisStore(addr, password string, db int, opts ...StoreOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	rs := NewRedisStoreWithClient(client, opts...)
	rs.closeClient = true

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rs.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return rs, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client; Close does not close it.
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...StoreOption) *RedisStore {
	rs := &RedisStore{
		client:    client,
		opTimeout: defaultOpTimeout,
		scanCount: defaultScanCount,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// Get retrieves a value from Redis. A missing key is (nil, false, nil).
func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := rs.bound(ctx)
	defer cancel()

	val, err := rs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, unavailable("get", err)
	}
	return val, true, nil
}

// Set stores a value in Redis. ttl <= 0 stores without expiry.
func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := rs.bound(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := rs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes a value from Redis. Deleting a missing key is not an error.
func (rs *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := rs.bound(ctx)
	defer cancel()

	if err := rs.client.Del(ctx, key).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// ClearPrefix removes every key starting with prefix. On a cluster client
// every master is scanned.
func (rs *RedisStore) ClearPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("storage: refusing to clear an empty prefix")
	}
	pattern := escapeGlob(prefix) + "*"

	if cc, ok := rs.client.(*redis.ClusterClient); ok {
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return rs.scanDelete(ctx, node, pattern)
		})
		if err != nil {
			return unavailable("clear", err)
		}
		return nil
	}
	if err := rs.scanDelete(ctx, rs.client, pattern); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (rs *RedisStore) scanDelete(ctx context.Context, c redis.Cmdable, pattern string) error {
	var cursor uint64
	for {
		sctx, cancel := rs.bound(ctx)
		keys, next, err := c.Scan(sctx, cursor, pattern, rs.scanCount).Result()
		cancel()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			// One UNLINK per key keeps cluster slots apart.
			dctx, cancel := rs.bound(ctx)
			_, err := c.Pipelined(dctx, func(p redis.Pipeliner) error {
				for _, k := range keys {
					p.Unlink(dctx, k)
				}
				return nil
			})
			cancel()
			if err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks connectivity.
func (rs *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := rs.bound(ctx)
	defer cancel()

	if err := rs.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the Redis connection if this store owns it.
func (rs *RedisStore) Close() error {
	if !rs.closeClient {
		return nil
	}
	if err := rs.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() redis.UniversalClient {
	return rs.client
}

func (rs *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if rs.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, rs.opTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrRemoteUnavailable, op, err)
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
