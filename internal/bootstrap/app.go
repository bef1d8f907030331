package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/veloracommerce/fulfillment/internal/infrastructure/config"
	"github.com/veloracommerce/fulfillment/internal/infrastructure/observability"
	infraRedis "github.com/veloracommerce/fulfillment/internal/infrastructure/redis"
	"github.com/veloracommerce/fulfillment/internal/repository/postgres"
	"github.com/veloracommerce/fulfillment/internal/service"
)

// App holds the shared dependencies both binaries (api, worker) wire the
// rest of the system from.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info().Str("service", serviceName).Msg("Starting")

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return &App{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Redis:   redisClient,
		Metrics: metrics,
	}, nil
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

// SlotLocker returns the Redis-backed locker adapted to the service port.
func (a *App) SlotLocker() service.SlotLocker {
	return slotLockerAdapter{inner: infraRedis.NewSlotLocker(a.Redis, a.Config.Booking.SlotLockTTL)}
}

type slotLockerAdapter struct {
	inner *infraRedis.SlotLocker
}

func (s slotLockerAdapter) TryAcquire(ctx context.Context, key string) (service.SlotLease, bool, error) {
	lease, acquired, err := s.inner.TryAcquire(ctx, key)
	if err != nil || !acquired {
		return nil, false, err
	}
	return lease, true, nil
}
