package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"CondoParkPlatform/pkg/retry"
)

// Client представляет подключение к Redis
type Client struct {
	Client *redis.Client
}

// Config представляет конфигурацию Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	// Настройки пула соединений
	PoolSize    int
	MinIdleConn int
	// Настройки повторных попыток
	MaxRetries    int
	RetryInterval time.Duration
	HealthCheck   time.Duration
}

// NewConfig создает конфигурацию по умолчанию
func NewConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConn:   2,
		MaxRetries:    3,
		RetryInterval: 1 * time.Second,
		HealthCheck:   30 * time.Second,
	}
}

// Connect устанавливает подключение к Redis с retry логикой
func Connect(ctx context.Context, config *Config) (*Client, error) {
	var client *redis.Client

	retryConfig := retry.Config{
		MaxAttempts:  config.MaxRetries + 1,
		InitialDelay: config.RetryInterval,
		MaxDelay:     config.RetryInterval * 4,
		Multiplier:   2.0,
		Jitter:       true,
	}

	err := retry.Do(ctx, retryConfig, func(ctx context.Context) error {
		c := redis.NewClient(&redis.Options{
			Addr:               config.Addr,
			Password:           config.Password,
			DB:                 config.DB,
			PoolSize:           config.PoolSize,
			MinIdleConns:       config.MinIdleConn,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			PoolTimeout:        4 * time.Second,
			IdleCheckFrequency: config.HealthCheck,
		})

		if err := c.Ping(ctx).Err(); err != nil {
			c.Close()
			return fmt.Errorf("failed to ping redis: %w", err)
		}

		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Client{Client: client}, nil
}

// Close закрывает подключение к Redis
func (r *Client) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// HealthCheck проверяет состояние подключения к Redis
func (r *Client) HealthCheck(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}

	return r.Client.Ping(ctx).Err()
}
