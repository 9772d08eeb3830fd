package app

import (
	"context"
	"fmt"
	"time"

	"CondoParkPlatform/pkg/config"
	"CondoParkPlatform/pkg/database"
	"CondoParkPlatform/pkg/health"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/rabbitmq"
	"CondoParkPlatform/pkg/ratelimit"
	pkgredis "CondoParkPlatform/pkg/redis"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/repository"
	"CondoParkPlatform/services/booking-service/internal/repository/memory"
	"CondoParkPlatform/services/booking-service/internal/repository/postgres"
	"CondoParkPlatform/services/booking-service/internal/sweeper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	BackendRedis  = "redis"
)

// Backend внешние зависимости сервиса, выбранные конфигурацией.
// Отозванные коды всегда хранятся в хранилище сообществ.
type Backend struct {
	Store       *repository.Store
	Revocations repository.RevocationRepository
	Publisher   events.Publisher

	postgres     *database.Postgres
	redis        *pkgredis.Client
	rabbit       *rabbitmq.Connection
	rabbitConfig *rabbitmq.Config
	log          logger.Logger
	purgers      []sweeper.Purger
}

// Open подключает хранилище, Redis и RabbitMQ согласно конфигурации.
// При ошибке уже открытые соединения закрываются.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger, m *metrics.Metrics) (_ *Backend, err error) {
	b := &Backend{log: log, Publisher: events.NopPublisher{}}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	switch cfg.Booking.Store {
	case StorePostgres:
		dbConfig := database.NewConfig()
		dbConfig.Host = cfg.Database.Host
		dbConfig.Port = cfg.Database.Port
		dbConfig.User = cfg.Database.User
		dbConfig.Password = cfg.Database.Password
		dbConfig.Database = cfg.Database.Name
		dbConfig.SSLMode = cfg.Database.SSLMode
		if cfg.Database.MaxConns > 0 {
			dbConfig.MaxConns = cfg.Database.MaxConns
		}

		b.postgres, err = database.Connect(ctx, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.Store = postgres.NewStore(b.postgres.Pool, postgres.Options{
			LockTimeout: cfg.Booking.LockTimeoutValue(),
			MaxRetries:  cfg.Booking.MaxRetries,
		})
		log.Info("Using postgres store", logger.String("host", cfg.Database.Host), logger.String("database", cfg.Database.Name))
	default:
		store, err := memory.NewStore(memory.WithLockTimeout(cfg.Booking.LockTimeoutValue()))
		if err != nil {
			return nil, fmt.Errorf("failed to create memory store: %w", err)
		}
		b.Store = store.Repositories()
		log.Info("Using in-memory store")
	}
	b.Revocations = b.Store.Revocations

	if cfg.RateLimiting.Backend == BackendRedis {
		redisConfig := pkgredis.NewConfig()
		redisConfig.Addr = cfg.Redis.Addr
		redisConfig.Password = cfg.Redis.Password
		redisConfig.DB = cfg.Redis.DB
		redisConfig.PoolSize = cfg.Redis.PoolSize
		redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
		redisConfig.MaxRetries = cfg.Redis.MaxRetries

		b.redis, err = pkgredis.Connect(ctx, redisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	if cfg.Events.Enabled {
		b.rabbitConfig = rabbitmq.NewConfig()
		b.rabbitConfig.URL = cfg.RabbitMQ.URL
		if cfg.RabbitMQ.Exchange != "" {
			b.rabbitConfig.Exchange = cfg.RabbitMQ.Exchange
		}

		b.rabbit, err = rabbitmq.Connect(ctx, b.rabbitConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		b.Publisher = events.NewRabbitPublisher(rabbitmq.NewProducer(b.rabbit, b.rabbitConfig), log, m)
	}

	return b, nil
}

// Limiter возвращает лимитер попыток: общий в Redis или локальный в памяти.
// Локальные лимитеры регистрируются для периодической очистки.
func (b *Backend) Limiter(limit int, window time.Duration) ratelimit.Limiter {
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis.Client, limit, window)
	}
	limiter := ratelimit.NewMemoryLimiter(limit, window)
	b.purgers = append(b.purgers, limiter)
	return limiter
}

// Purgers локальные лимитеры, созданные через Limiter
func (b *Backend) Purgers() []sweeper.Purger {
	return b.purgers
}

// Migrate применяет миграции схемы. Для хранилища в памяти ничего не делает.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.postgres == nil {
		return nil
	}
	if err := b.postgres.Migrate(ctx, postgres.Migrations, postgres.MigrationsDir); err != nil {
		return err
	}

	version, err := b.postgres.MigrationVersion(ctx, postgres.Migrations)
	if err == nil {
		b.log.Info("Database schema is up to date", logger.Int64("version", version))
	}
	return nil
}

// Consumer возвращает консьюмера событий или nil, если публикация выключена
func (b *Backend) Consumer() *rabbitmq.Consumer {
	if b.rabbit == nil {
		return nil
	}
	return rabbitmq.NewConsumer(b.rabbit, b.rabbitConfig, b.log)
}

// RegisterProbes добавляет проверки подключенных зависимостей
func (b *Backend) RegisterProbes(checker *health.DependencyChecker) {
	if b.Store != nil && b.Store.Ping != nil {
		checker.Register("store", b.Store.Ping)
	}
	if b.redis != nil {
		checker.Register("redis", b.redis.HealthCheck)
	}
	if b.rabbit != nil {
		checker.Register("rabbitmq", b.rabbit.HealthCheck)
	}
}

// Close закрывает соединения в обратном порядке
func (b *Backend) Close() {
	if b == nil {
		return
	}
	if b.rabbit != nil {
		if err := b.rabbit.Close(); err != nil {
			b.log.Warn("Failed to close rabbitmq connection", logger.Error(err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			b.log.Warn("Failed to close redis connection", logger.Error(err))
		}
	}
	if b.postgres != nil {
		b.postgres.Close()
	}
}
