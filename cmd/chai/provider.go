package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweetpotato0/chai-tokenizer/catalog"
	"github.com/sweetpotato0/chai-tokenizer/config"
	"github.com/sweetpotato0/chai-tokenizer/contrib/cache/redis"
	"github.com/sweetpotato0/chai-tokenizer/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

// buildProvider wires the tiktoken family and the configured encode cache
// into a registry. The returned cleanup closes the cache backend.
func buildProvider(ctx context.Context, cfg config.Config, m *metrics.Collector) (*tokenizer.Registry, func(), error) {
	logger := logging.WithComponent("provider")
	if cfg.Tokenizer.OfflineBPE {
		tiktoken.UseOfflineLoader()
	}

	opts := []tokenizer.RegistryOption{
		tokenizer.WithFamily(catalog.FamilyGPT, tiktoken.Factory),
		tokenizer.WithRegistryLogger(logger),
	}
	cleanup := func() {}

	store, closeStore, err := buildStore(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		opts = append(opts, tokenizer.WithEncodeCache(store,
			tokenizer.WithCacheMetrics(m),
			tokenizer.WithCacheLogger(logger),
		))
		cleanup = closeStore
	}
	return tokenizer.NewRegistry(opts...), cleanup, nil
}

func buildStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (tokenizer.Store, func(), error) {
	switch cfg.Backend {
	case config.CacheMemory:
		return tokenizer.NewMemoryStore(cfg.Capacity), func() {}, nil

	case config.CacheRedis:
		if err := config.ValidateRedisConfig(cfg.RedisAddr, cfg.RedisDB, cfg.Prefix); err != nil {
			return nil, nil, err
		}
		store := redis.NewStore(&redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
			TTL:      cfg.TTL,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			// tokenization works without the cache
			logger.Warn("redis encode cache unreachable; continuing without cache", "addr", cfg.RedisAddr, "error", err)
			_ = store.Close()
			return nil, func() {}, nil
		}
		logger.Info("redis encode cache enabled", "addr", cfg.RedisAddr, "prefix", cfg.Prefix)
		return store, func() { _ = store.Close() }, nil
	}
	return nil, func() {}, nil
}
