package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/huykn/region-cache/codec"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	// These should not panic - they're no-ops
	logger.Debug("test message", "key", "value")
	logger.Info("test message", "key", "value")
	logger.Warn("test message", "key", "value")
	logger.Error("test message", "key", "value")

	// Test with no args
	logger.Debug("test message")
	logger.Error("test message")
}

func TestLocalCacheFactoryFunc(t *testing.T) {
	var gotTTL time.Duration
	factory := LocalCacheFactoryFunc(func(ttl time.Duration) (LocalCache, error) {
		gotTTL = ttl
		return NewLRUCache(10, ttl)
	})

	cache, err := factory.Create(time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache from factory: %v", err)
	}
	defer cache.Close()

	if gotTTL != time.Minute {
		t.Fatalf("Expected ttl 1m, got %v", gotTTL)
	}
}

func TestStatsAdd(t *testing.T) {
	a := Stats{LocalHits: 1, RemoteMisses: 2, Evictions: 3}
	b := Stats{LocalHits: 4, Loads: 5, Evictions: 1}
	sum := a.Add(b)
	if sum.LocalHits != 5 || sum.RemoteMisses != 2 || sum.Loads != 5 || sum.Evictions != 4 {
		t.Fatalf("Unexpected sum %+v", sum)
	}
}

func TestNewLocalCacheFactory(t *testing.T) {
	cfg := DefaultLocalCacheConfig()
	cfg.Shards = 16
	c := codec.MustNew(codec.FormatMsgpack)

	for _, kind := range []string{"", LocalLFU, LocalLRU, LocalBigCache} {
		f, err := NewLocalCacheFactory(kind, cfg, c)
		if err != nil {
			t.Fatalf("kind %q: %v", kind, err)
		}
		local, err := f.Create(time.Minute)
		if err != nil {
			t.Fatalf("kind %q: Create failed: %v", kind, err)
		}
		local.Set("k", "v", 0)
		if v, found := local.Get("k"); !found || v != "v" {
			t.Fatalf("kind %q: expected v, got %v", kind, v)
		}
		local.Close()
	}

	if _, err := NewLocalCacheFactory("arc", cfg, c); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig for unknown kind, got %v", err)
	}
	if _, err := NewLocalCacheFactory(LocalBigCache, cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Expected ErrInvalidConfig for bigcache without codec, got %v", err)
	}
}

func TestBoundTTL(t *testing.T) {
	cases := []struct {
		ttl, limit, want time.Duration
	}{
		{0, time.Minute, time.Minute},
		{time.Second, time.Minute, time.Second},
		{time.Hour, time.Minute, time.Minute},
		{time.Hour, 0, time.Hour},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := boundTTL(c.ttl, c.limit); got != c.want {
			t.Errorf("boundTTL(%v, %v) = %v, want %v", c.ttl, c.limit, got, c.want)
		}
	}
}
