package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/region-cache/storage"
	"github.com/huykn/region-cache/types"
)

func testOptions(addr string) Options {
	opts := DefaultOptions()
	opts.PodID = "test-pod"
	opts.RedisAddr = addr
	opts.RemoteTimeout = time.Second
	opts.ContextTimeout = time.Second
	return opts
}

// newTestRegistry creates a Redis-backed registry on mr.
func newTestRegistry(t *testing.T, mr *miniredis.Miniredis, mutate ...func(*Options)) *Registry {
	t.Helper()
	opts := testOptions(mr.Addr())
	for _, m := range mutate {
		m(&opts)
	}
	reg, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// flakyStore fails selected operations with ErrRemoteUnavailable.
type flakyStore struct {
	Store
	failGet    atomic.Bool
	failSet    atomic.Bool
	failDelete atomic.Bool
}

func forced(op string) error {
	return fmt.Errorf("%w: %s: forced failure", types.ErrRemoteUnavailable, op)
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet.Load() {
		return nil, false, forced("get")
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failSet.Load() {
		return forced("set")
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete.Load() {
		return forced("delete")
	}
	return f.Store.Delete(ctx, key)
}

func (f *flakyStore) ClearPrefix(ctx context.Context, prefix string) error {
	if f.failDelete.Load() {
		return forced("clear")
	}
	return f.Store.ClearPrefix(ctx, prefix)
}

// newFlakyRegistry creates a registry without a synchronizer over a
// flakyStore on mr.
func newFlakyRegistry(t *testing.T, mr *miniredis.Miniredis, mutate ...func(*Options)) (*Registry, *flakyStore) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fs := &flakyStore{Store: storage.NewRedisStoreWithClient(client)}
	opts := testOptions(mr.Addr())
	for _, m := range mutate {
		m(&opts)
	}
	reg, err := NewRegistry(opts, fs, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg, fs
}

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every message it receives.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func constLoader(v any, calls *int64) Loader {
	return func(ctx context.Context) (any, error) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		return v, nil
	}
}

func mustMiss(t *testing.T, r *Region, key string) {
	t.Helper()
	v, found, err := r.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	if found {
		t.Fatalf("Expected miss for %s, got %v", key, v)
	}
}
