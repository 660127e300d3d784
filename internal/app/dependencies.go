package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cart-pricing/internal/cart"
	"github.com/noah-isme/cart-pricing/internal/catalog"
	"github.com/noah-isme/cart-pricing/internal/config"
	"github.com/noah-isme/cart-pricing/internal/db"
	"github.com/noah-isme/cart-pricing/internal/lock"
	"github.com/noah-isme/cart-pricing/internal/obs"
	"github.com/noah-isme/cart-pricing/internal/queue"
	"github.com/noah-isme/cart-pricing/internal/resilience"
)

// Dependencies enumerates the infrastructure shared by the API and the worker.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	TaskClient *asynq.Client
	Catalog    *catalog.Cache
	Cart       *cart.Service

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Open connects PostgreSQL and Redis, applies migrations when configured and
// builds the cart service.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, application string) (*Dependencies, error) {
	if cfg.DBMigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("migrations applied")
	}

	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	pool, err := openPool(ctx, cfg, application)
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cfg.RedisURL, logger, tp, mp)
	if err != nil {
		pool.Close()
		return nil, err
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("parse redis uri for queue: %w", err)
	}

	d := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		DB:         pool,
		Redis:      rdb,
		TaskClient: asynq.NewClient(redisOpt),
		Catalog:    catalog.NewCache(rdb, cfg.CatalogCacheTTL),

		TracerProvider: tp,
		MeterProvider:  mp,
	}
	d.Cart = d.newCartService()
	return d, nil
}

func openPool(ctx context.Context, cfg *config.Config, application string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = application

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// openRedis connects and instruments the client with the given providers.
func openRedis(ctx context.Context, url string, logger zerolog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(tp)); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(mp)); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (d *Dependencies) newCartService() *cart.Service {
	logger := d.Logger.With().Str("component", "cart").Logger()
	return &cart.Service{
		Store: cart.PGStore{DB: d.DB},
		Catalog: catalog.Cached{
			Next: catalog.Guarded{
				Next:    catalog.Store{DB: d.DB},
				Breaker: resilience.NewBreaker(resilience.Options{Target: "catalog", Logger: &logger}),
			},
			Cache:  d.Catalog,
			Logger: &logger,
		},
		Locker:  lock.Locker{R: d.Redis, RetryBackoff: d.Config.LockRetryBackoff},
		LockTTL: d.Config.CartLockTTL,
		Scheduler: queue.Scheduler{
			Client: d.TaskClient,
			Queue:  d.Config.QueueName,
			Grace:  d.Config.RepriceGrace,
			Logger: &logger,
		},
		TaxBps: d.Config.TaxRateBps,
		Logger: &logger,
	}
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() {
	if d.TaskClient != nil {
		if err := d.TaskClient.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
