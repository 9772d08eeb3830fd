package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/retry"
)

// Коды ошибок PostgreSQL, которые обрабатываются явно
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// BaseRepository базовая структура для всех репозиториев PostgreSQL
type BaseRepository struct {
	Pool *pgxpool.Pool
}

// NewBaseRepository создает новый экземпляр базового репозитория
func NewBaseRepository(pool *pgxpool.Pool) *BaseRepository {
	return &BaseRepository{Pool: pool}
}

// querier общий интерфейс пула и транзакции
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InTx выполняет fn в транзакции с заданным уровнем изоляции.
// Ошибки сериализации и взаимоблокировки повторяются с ограниченным числом попыток.
func (r *BaseRepository) InTx(ctx context.Context, iso pgx.TxIsoLevel, maxAttempts int, fn func(tx pgx.Tx) error) error {
	err := retry.DoIf(ctx, retry.TxConfig(maxAttempts), isRetryable, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, r.Pool, pgx.TxOptions{IsoLevel: iso}, fn)
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return apperrors.Wrap(err, apperrors.ErrTryAgain, "transaction kept conflicting")
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// classify переводит ошибку драйвера в ошибку домена.
// Уже типизированные ошибки возвращаются как есть.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(err, apperrors.ErrNotFound, message)
	}

	switch pgCode(err) {
	case codeLockNotAvailable:
		return apperrors.Wrap(err, apperrors.ErrTryAgain, "lock wait timed out")
	case codeExclusionViolation:
		return apperrors.Wrap(err, apperrors.ErrSlotConflict, "slot already reserved")
	case codeUniqueViolation:
		return apperrors.Wrap(err, apperrors.ErrConflict, message)
	case codeForeignKeyViolation:
		return apperrors.Wrap(err, apperrors.ErrNotFound, message)
	case codeSerializationFailure, codeDeadlockDetected:
		return apperrors.Wrap(err, apperrors.ErrTryAgain, message)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrTryAgain, message)
	}

	return apperrors.Wrap(err, apperrors.ErrPersistenceFailure, message)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
