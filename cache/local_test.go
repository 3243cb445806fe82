package cache

import (
	"testing"
	"time"

	"github.com/huykn/region-cache/codec"
)

type localCase struct {
	name   string
	create func(t *testing.T, ttl time.Duration) LocalCache
}

func localCases() []localCase {
	return []localCase{
		{"lfu", func(t *testing.T, ttl time.Duration) LocalCache {
			c, err := NewLFUCache(DefaultLocalCacheConfig(), ttl)
			if err != nil {
				t.Fatalf("Failed to create cache: %v", err)
			}
			return c
		}},
		{"lru", func(t *testing.T, ttl time.Duration) LocalCache {
			c, err := NewLRUCache(100, ttl)
			if err != nil {
				t.Fatalf("Failed to create cache: %v", err)
			}
			return c
		}},
		{"bigcache", func(t *testing.T, ttl time.Duration) LocalCache {
			cfg := DefaultLocalCacheConfig()
			cfg.Shards = 16
			cfg.MaxSize = 100
			c, err := NewBigCacheLocal(cfg, codec.MustNew(codec.FormatMsgpack), ttl)
			if err != nil {
				t.Fatalf("Failed to create cache: %v", err)
			}
			return c
		}},
	}
}

func TestLocalCacheContract(t *testing.T) {
	for _, tc := range localCases() {
		t.Run(tc.name, func(t *testing.T) {
			cache := tc.create(t, time.Minute)
			defer cache.Close()

			if !cache.Set("key1", "value1", 0) {
				t.Fatal("Set should succeed")
			}
			value, found := cache.Get("key1")
			if !found || value != "value1" {
				t.Fatalf("Expected value1, got %v", value)
			}

			cache.Set("key1", "value2", 0)
			if value, _ := cache.Get("key1"); value != "value2" {
				t.Fatalf("Expected value2 after update, got %v", value)
			}

			if _, found := cache.Get("nonexistent"); found {
				t.Fatal("Value should not be found")
			}

			cache.Delete("key1")
			if _, found := cache.Get("key1"); found {
				t.Fatal("Value should not be found after deletion")
			}
			// Should not panic
			cache.Delete("nonexistent")

			cache.Set("a", 1, 0)
			cache.Set("b", 2, 0)
			cache.Clear()
			_, foundA := cache.Get("a")
			_, foundB := cache.Get("b")
			if foundA || foundB {
				t.Fatal("Cache should be empty after clear")
			}
		})
	}
}

func TestLocalCacheMetrics(t *testing.T) {
	for _, tc := range localCases() {
		t.Run(tc.name, func(t *testing.T) {
			cache := tc.create(t, time.Minute)
			defer cache.Close()

			cache.Set("key1", "value1", 0)
			cache.Get("key1") // Hit
			cache.Get("key1") // Hit
			cache.Get("key2") // Miss

			metrics := cache.Metrics()
			if metrics.Hits != 2 {
				t.Fatalf("Expected 2 hits, got %d", metrics.Hits)
			}
			if metrics.Misses != 1 {
				t.Fatalf("Expected 1 miss, got %d", metrics.Misses)
			}
		})
	}
}

func TestLocalCacheFactories(t *testing.T) {
	c := codec.MustNew(codec.FormatMsgpack)
	for _, kind := range []string{LocalLFU, LocalLRU, LocalBigCache} {
		cfg := DefaultLocalCacheConfig()
		cfg.Shards = 16
		factory, err := NewLocalCacheFactory(kind, cfg, c)
		if err != nil {
			t.Fatalf("%s: Failed to create factory: %v", kind, err)
		}
		cache, err := factory.Create(time.Minute)
		if err != nil {
			t.Fatalf("%s: Failed to create cache from factory: %v", kind, err)
		}
		cache.Set("test", "value", 0)
		if value, found := cache.Get("test"); !found || value != "value" {
			t.Fatalf("%s: Expected 'value', got %v", kind, value)
		}
		cache.Close()
	}

	if _, err := NewLocalCacheFactory("arc", DefaultLocalCacheConfig(), c); err == nil {
		t.Fatal("Expected error for unsupported kind")
	}
}
