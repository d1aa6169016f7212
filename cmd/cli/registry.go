package main

import (
	"context"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
	"github.com/BathrobeBat/noise-sensor/pkg/cache"
	"github.com/BathrobeBat/noise-sensor/pkg/catalog"
	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/feed"
	"github.com/BathrobeBat/noise-sensor/pkg/ingest"
	"github.com/BathrobeBat/noise-sensor/pkg/sink"
	"github.com/BathrobeBat/noise-sensor/pkg/window"
	"go.uber.org/zap"
)

// Registry holds the components wired on top of the database
type Registry struct {
	Feed         *feed.Client
	Upserter     *catalog.Upserter
	Orchestrator *ingest.Orchestrator
	Aggregator   *aggregator.Aggregator
	Queries      *window.Engine

	closers []func()
}

// InitRegistry wires every component. Redis and InfluxDB are optional; when
// they are not configured or unreachable the service runs without them.
func InitRegistry(ctx context.Context, env *environment, dbManager *database.DatabaseManager) *Registry {
	cfg := env.cfg
	log := env.logger
	r := &Registry{}

	r.Feed = feed.NewClient(
		feed.NewRestyFetcher(cfg.Feed.Timeout, cfg.Feed.UserAgent),
		cfg.Feed.SnapshotURL,
		cfg.Feed.SensorURL,
		log.Named("feed"),
	)

	var sinks []ingest.ReadingSink
	if cfg.Influx.URL != "" {
		influx, err := sink.NewInfluxSink(ctx, cfg.Influx, log.Named("influx"))
		if err != nil {
			log.Warn("InfluxDB sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, influx)
			r.closers = append(r.closers, influx.Close)
		}
	}

	r.Upserter = catalog.NewUpserter(dbManager, log.Named("catalog"))
	r.Orchestrator = ingest.NewOrchestrator(dbManager, r.Upserter, r.Feed, log.Named("ingest"), sinks...)
	r.Aggregator = aggregator.New(dbManager, env.loc, log.Named("aggregator"))

	weekStart, _ := cfg.FirstWeekday()
	r.Queries = window.NewEngine(dbManager, log.Named("window"),
		window.WithLocation(env.loc),
		window.WithWeekStart(weekStart),
		window.WithLiveFetcher(r.Feed),
		window.WithCache(r.recentCache(ctx, env), cfg.Redis.TTL),
		window.WithCatalogRefresher(r.Orchestrator),
	)

	return r
}

func (r *Registry) recentCache(ctx context.Context, env *environment) cache.Cache {
	cfg := env.cfg.Redis
	if cfg.Addr == "" {
		return cache.NewMemoryCache()
	}

	redisCache := cache.NewRedisCache(cache.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB), serviceName+":")

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		env.logger.Warn("Redis unreachable, using in-process cache", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = redisCache.Close()
		return cache.NewMemoryCache()
	}

	r.closers = append(r.closers, func() { _ = redisCache.Close() })
	env.logger.Info("Recent value cache connected", zap.String("addr", cfg.Addr))
	return redisCache
}

// Close releases the optional backends
func (r *Registry) Close() {
	for _, c := range r.closers {
		c()
	}
}
