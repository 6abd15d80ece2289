package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/mohammed-shakir/postgis-collections/internal/cache/featurecache"
	"github.com/mohammed-shakir/postgis-collections/internal/cache/redisstore"
	"github.com/mohammed-shakir/postgis-collections/internal/catalog"
	"github.com/mohammed-shakir/postgis-collections/internal/collection"
	"github.com/mohammed-shakir/postgis-collections/internal/core/config"
	"github.com/mohammed-shakir/postgis-collections/internal/core/observability"
	"github.com/mohammed-shakir/postgis-collections/internal/core/router"
	"github.com/mohammed-shakir/postgis-collections/internal/core/server"
	"github.com/mohammed-shakir/postgis-collections/internal/derived"
	"github.com/mohammed-shakir/postgis-collections/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/postgis-collections/internal/logger"
	"github.com/mohammed-shakir/postgis-collections/internal/spatial"
	"github.com/mohammed-shakir/postgis-collections/internal/store"
	"github.com/mohammed-shakir/postgis-collections/internal/store/pgstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	collectionsFlag := flag.String("collections", "", "collections file (overrides COLLECTIONS_FILE)")
	flag.Parse()

	cfg := config.FromEnv()
	if *collectionsFlag != "" {
		cfg.CollectionsFile = *collectionsFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "collectiond",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting collectiond",
		"addr", cfg.Addr,
		"version", Version,
		"collections", cfg.CollectionsFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defs, err := catalog.Load(cfg.CollectionsFile)
	if err != nil {
		appLog.Error("failed to load collections", "err", err)
		return 1
	}

	pg, err := pgstore.Connect(ctx, pgstore.Config{
		URL:        cfg.DatabaseURL,
		MaxConns:   int32(min(max(cfg.DBMaxConns, 1), 1<<15)),
		Retries:    cfg.DBRetries,
		RetryDelay: cfg.DBRetryDelay,
	}, appLog)
	if err != nil {
		appLog.Error("database unavailable", "err", err)
		return 1
	}
	defer pg.Close()

	cat, err := catalog.Build(defs, collection.Options{
		Logger:  appLog,
		Store:   pg,
		Spatial: spatial.NewBuilder(spatial.DefaultRegistry()),
		Derived: derived.Builtins(cfg.H3Res),
	})
	if err != nil {
		appLog.Error("invalid collections", "err", err)
		return 1
	}
	appLog.Info("catalog ready", "collections", cat.IDs())

	ready := map[string]store.Pinger{"postgres": pg}
	cache, closeCache := buildCache(ctx, cfg, appLog, ready)
	defer closeCache()

	if cfg.Invalidation.Enabled && cache != nil {
		kc := kafkaconsumer.DefaultConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID)
		kc.LogLevel = cfg.LogLevel
		cons := kafkaconsumer.New(kc, appLog, cache, cat)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	h := router.New(router.Deps{
		Logger:         appLog,
		Catalog:        cat,
		Cache:          cache,
		CacheOpTimeout: cfg.CacheOpTimeout,
		DefaultLimit:   cfg.DefaultLimit,
		MaxLimit:       cfg.MaxLimit,
		Ready:          ready,
	})
	if err := server.Run(ctx, cfg.Addr, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// buildCache prefers the in-process cache when FEATURE_CACHE_SIZE is set.
// A Redis that cannot be reached disables caching instead of failing
// startup.
func buildCache(ctx context.Context, cfg config.Config, log *slog.Logger, ready map[string]store.Pinger) (featurecache.Cache, func()) {
	noop := func() {}
	if !cfg.CacheEnabled() {
		log.Info("feature cache disabled")
		return nil, noop
	}
	if cfg.FeatureCacheSize > 0 {
		log.Info("feature cache", "backend", "lru", "size", cfg.FeatureCacheSize, "ttl", cfg.FeatureCacheTTL)
		return featurecache.NewLRU(cfg.FeatureCacheSize, cfg.FeatureCacheTTL), noop
	}

	rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rc, err := redisstore.New(rctx, cfg.RedisAddr,
		redisstore.WithReadTimeout(cfg.CacheOpTimeout),
		redisstore.WithWriteTimeout(cfg.CacheOpTimeout))
	if err != nil {
		log.Warn("redis unavailable, feature cache disabled", "addr", cfg.RedisAddr, "err", err)
		return nil, noop
	}
	ready["redis"] = rc
	log.Info("feature cache", "backend", "redis", "addr", cfg.RedisAddr, "ttl", cfg.FeatureCacheTTL)
	return featurecache.NewRedis(rc, cfg.FeatureCacheTTL), func() { _ = rc.Close() }
}
