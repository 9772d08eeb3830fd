package database

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate применяет миграции goose из переданной файловой системы.
// Соединение для goose берется из того же пула pgx.
func (p *Postgres) Migrate(ctx context.Context, migrations fs.FS, dir string) error {
	if p.Pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	db := stdlib.OpenDBFromPool(p.Pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// MigrationVersion возвращает текущую версию схемы
func (p *Postgres) MigrationVersion(ctx context.Context, migrations fs.FS) (int64, error) {
	if p.Pool == nil {
		return 0, fmt.Errorf("database pool is not initialized")
	}

	db := stdlib.OpenDBFromPool(p.Pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.GetDBVersionContext(ctx, db)
}
