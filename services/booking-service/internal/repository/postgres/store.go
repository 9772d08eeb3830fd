package postgres

import (
	"context"
	"embed"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"CondoParkPlatform/services/booking-service/internal/repository"
)

// Migrations схема базы данных для goose
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir каталог миграций внутри Migrations
const MigrationsDir = "migrations"

// Options параметры транзакций бронирования
type Options struct {
	LockTimeout time.Duration
	MaxRetries  int
}

// NewStore собирает репозитории поверх пула соединений
func NewStore(pool *pgxpool.Pool, opts Options) *repository.Store {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}

	return &repository.Store{
		Tenants:      NewTenantRepository(pool),
		Principals:   NewPrincipalRepository(pool),
		Resources:    NewResourceRepository(pool),
		Reservations: NewReservationRepository(pool, opts),
		Rotation:     NewRotationRepository(pool),
		Revocations:  NewRevocationRepository(pool),
		Ping: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}
