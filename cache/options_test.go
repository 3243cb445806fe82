package cache

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.PodID == "" {
		t.Fatal("PodID should not be empty")
	}

	if opts.RedisAddr == "" {
		t.Fatal("RedisAddr should not be empty")
	}

	if opts.InvalidationChannel == "" {
		t.Fatal("InvalidationChannel should not be empty")
	}

	if opts.EventStream == "" || opts.EventGroup == "" {
		t.Fatal("EventStream and EventGroup should not be empty")
	}

	if opts.SerializationFormat != "msgpack" {
		t.Fatalf("Expected msgpack, got %s", opts.SerializationFormat)
	}

	if opts.ContextTimeout == 0 || opts.RemoteTimeout == 0 {
		t.Fatal("Timeouts should not be zero")
	}

	if DefaultOptions().PodID == opts.PodID {
		t.Fatal("Each default PodID should be unique")
	}
}

func TestDefaultLocalCacheConfig(t *testing.T) {
	config := DefaultLocalCacheConfig()

	if config.NumCounters <= 0 {
		t.Fatal("NumCounters should be positive")
	}

	if config.MaxCost <= 0 {
		t.Fatal("MaxCost should be positive")
	}

	if config.BufferItems <= 0 {
		t.Fatal("BufferItems should be positive")
	}

	if config.Shards&(config.Shards-1) != 0 {
		t.Fatal("Shards should be a power of two")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		valid  bool
	}{
		{"Valid options", func(o *Options) {}, true},
		{"Empty PodID", func(o *Options) { o.PodID = "" }, false},
		{"Empty RedisAddr", func(o *Options) { o.RedisAddr = "" }, false},
		{"Empty InvalidationChannel", func(o *Options) { o.InvalidationChannel = "" }, false},
		{"Invalid SerializationFormat", func(o *Options) { o.SerializationFormat = "json" }, false},
		{"CBOR", func(o *Options) { o.SerializationFormat = "cbor" }, true},
		{"Negative DefaultTTL", func(o *Options) { o.DefaultTTL = -time.Second }, false},
		{"Negative region TTL", func(o *Options) {
			o.RegionTTLs = map[string]time.Duration{"friends": -1}
		}, false},
		{"Negative EventClaimIdle", func(o *Options) { o.EventClaimIdle = -time.Second }, false},
		{"Claiming disabled", func(o *Options) { o.EventClaimIdle = 0 }, true},
		{"Region TTL covering event stream", func(o *Options) {
			o.KeyPrefix = ""
			o.RegionTTLs = map[string]time.Duration{"regioncache": time.Minute}
		}, false},
		{"Invalid region name in TTLs", func(o *Options) {
			o.RegionTTLs = map[string]time.Duration{"a:b": time.Minute}
		}, false},
		{"Unknown local kind", func(o *Options) { o.LocalCacheKind = "arc" }, false},
		{"LRU without size", func(o *Options) {
			o.LocalCacheKind = LocalLRU
			o.LocalCacheConfig.MaxSize = 0
		}, false},
		{"BigCache shards not power of two", func(o *Options) {
			o.LocalCacheKind = LocalBigCache
			o.LocalCacheConfig.Shards = 100
		}, false},
		{"Custom factory skips local checks", func(o *Options) {
			o.LocalCacheKind = "custom"
			o.LocalCacheFactory = LocalCacheFactoryFunc(func(ttl time.Duration) (LocalCache, error) { return NewLRUCache(10, ttl) })
		}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := DefaultOptions()
			test.mutate(&opts)
			err := opts.Validate()
			if test.valid && err != nil {
				t.Fatalf("Expected valid options, got error: %v", err)
			}
			if !test.valid {
				if err == nil {
					t.Fatal("Expected invalid options, got no error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("Expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestOptionsTTLFor(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultTTL = time.Minute
	opts.RegionTTLs = map[string]time.Duration{"unreadCount": 5 * time.Second}

	if ttl := opts.TTLFor("unreadCount"); ttl != 5*time.Second {
		t.Fatalf("Expected 5s, got %v", ttl)
	}
	if ttl := opts.TTLFor("friends"); ttl != time.Minute {
		t.Fatalf("Expected 1m, got %v", ttl)
	}
}
