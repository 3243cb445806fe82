package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	regioncache "github.com/huykn/region-cache"
	"github.com/huykn/region-cache/cache"
	zapadapter "github.com/huykn/region-cache/log/zap"
)

const envPrefix = "REGIONCACHE"

// app carries what every subcommand needs.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "regioncache",
		Short:         "Operate a two-tier region cache",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	def := regioncache.DefaultConfig()
	f := root.PersistentFlags()
	f.String("config", "", "config file (default: ./regioncache.yaml if present)")
	f.String("env-file", ".env", "dotenv file loaded before reading the environment")
	f.String("redis-addr", def.RedisAddr, "Redis address")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", def.RedisDB, "Redis database")
	f.String("pod-id", "", "process id, also the event consumer name (default: random uuid per start)")
	f.String("key-prefix", def.KeyPrefix, "prefix of every remote key")
	f.String("channel", def.InvalidationChannel, "pub/sub channel for eviction notices")
	f.String("stream", def.EventStream, "Redis stream carrying domain events")
	f.String("group", def.EventGroup, "consumer group of the event stream")
	f.Duration("claim-idle", def.EventClaimIdle, "claim events left unacknowledged this long by other consumers (0 disables)")
	f.String("format", def.SerializationFormat, "codec body format: msgpack or cbor")
	f.String("local", def.LocalCacheKind, "local tier: lfu, lru or bigcache")
	f.Duration("ttl", def.DefaultTTL, "default region TTL")
	f.Duration("remote-timeout", def.RemoteTimeout, "timeout of each Redis call")
	f.StringSlice("region-ttl", nil, "per-region TTL as region=duration, repeatable")
	f.Bool("debug", false, "debug logging")

	root.AddCommand(
		newConsumeCmd(a),
		newEvictCmd(a),
		newClearCmd(a),
		newDispatchCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if envFile := a.v.GetString("env-file"); envFile != "" {
		// A missing file is fine; anything else is not.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if file := a.v.GetString("config"); file != "" {
		a.v.SetConfigFile(file)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else {
		a.v.SetConfigName("regioncache")
		a.v.AddConfigPath(".")
		if err := a.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	var err error
	if a.v.GetBool("debug") {
		a.logger, err = zap.NewDevelopment()
	} else {
		a.logger, err = zap.NewProduction()
	}
	return err
}

// config builds the cache configuration from flags, environment and file.
func (a *app) config() regioncache.Config {
	cfg := regioncache.DefaultConfig()
	if id := a.v.GetString("pod-id"); id != "" {
		cfg.PodID = id
	}
	cfg.RedisAddr = a.v.GetString("redis-addr")
	cfg.RedisPassword = a.v.GetString("redis-password")
	cfg.RedisDB = a.v.GetInt("redis-db")
	cfg.KeyPrefix = a.v.GetString("key-prefix")
	cfg.InvalidationChannel = a.v.GetString("channel")
	cfg.EventStream = a.v.GetString("stream")
	cfg.EventGroup = a.v.GetString("group")
	cfg.EventClaimIdle = a.v.GetDuration("claim-idle")
	cfg.SerializationFormat = a.v.GetString("format")
	cfg.LocalCacheKind = a.v.GetString("local")
	cfg.DefaultTTL = a.v.GetDuration("ttl")
	cfg.RemoteTimeout = a.v.GetDuration("remote-timeout")
	cfg.RegionTTLs = a.regionTTLs()
	cfg.DebugMode = a.v.GetBool("debug")
	cfg.Logger = zapadapter.New(a.logger)
	cfg.OnError = func(err error) { a.logger.Warn("background error", zap.Error(err)) }
	return cfg
}

// regionTTLs parses region-ttl entries of the form region=duration.
func (a *app) regionTTLs() map[string]time.Duration {
	entries := a.v.GetStringSlice("region-ttl")
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(entries))
	for _, e := range entries {
		name, s, ok := strings.Cut(e, "=")
		d, err := time.ParseDuration(s)
		if !ok || name == "" || err != nil {
			a.logger.Warn("ignoring region ttl", zap.String("entry", e))
			continue
		}
		out[name] = d
	}
	return out
}

func (a *app) registry() (*cache.Registry, error) {
	return regioncache.New(a.config())
}
