package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

const countQuery = `SELECT
	(SELECT count(*) FROM tenants WHERE code = $1),
	(SELECT count(*) FROM principals WHERE tenant_code = $1),
	(SELECT count(*) FROM resources WHERE tenant_code = $1),
	(SELECT count(*) FROM reservations WHERE tenant_code = $1)`

// RotationRepository заменяет код сообщества. Зависимые строки обновляются
// каскадом внешних ключей ON UPDATE CASCADE.
type RotationRepository struct {
	*BaseRepository
}

// NewRotationRepository создает новый экземпляр RotationRepository
func NewRotationRepository(pool *pgxpool.Pool) repository.RotationRepository {
	return &RotationRepository{BaseRepository: NewBaseRepository(pool)}
}

// CountByTenant считает строки, ссылающиеся на код
func (r *RotationRepository) CountByTenant(ctx context.Context, code string) (domain.TableCounts, error) {
	return countByTenant(ctx, r.Pool, code)
}

// RotateTenantCode в одной транзакции заменяет код, проверяет, что старый код больше нигде
// не встречается, и записывает его в revoked_tenant_codes
func (r *RotationRepository) RotateTenantCode(ctx context.Context, oldCode, newCode string, revokeFor time.Duration) (domain.TableCounts, error) {
	var counts domain.TableCounts

	err := r.InTx(ctx, pgx.ReadCommitted, 1, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT code FROM tenants WHERE code = $1 FOR UPDATE`, oldCode).Scan(&locked)
		if err == pgx.ErrNoRows {
			return apperrors.New(apperrors.ErrUnknownCode, "tenant code not found")
		}
		if err != nil {
			return err
		}

		counts, err = countByTenant(ctx, tx, oldCode)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE tenants SET code = $2, updated_at = now() WHERE code = $1`, oldCode, newCode)
		if err != nil {
			if pgCode(err) == codeUniqueViolation {
				return apperrors.Wrap(err, apperrors.ErrCodeAlreadyInUse, "tenant code already in use")
			}
			return err
		}

		remaining, err := countByTenant(ctx, tx, oldCode)
		if err != nil {
			return err
		}
		if remaining.Total() != 0 {
			return apperrors.New(apperrors.ErrPersistenceFailure, "rows still reference the old tenant code")
		}

		if revokeFor > 0 {
			if _, err := tx.Exec(ctx, revokeQuery, oldCode, revokeFor.Seconds()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.TableCounts{}, classify(err, "failed to rotate tenant code")
	}

	return counts, nil
}

func countByTenant(ctx context.Context, q querier, code string) (domain.TableCounts, error) {
	var counts domain.TableCounts
	err := q.QueryRow(ctx, countQuery, code).Scan(
		&counts.Tenants,
		&counts.Principals,
		&counts.Resources,
		&counts.Reservations,
	)
	if err != nil {
		return domain.TableCounts{}, classify(err, "failed to count tenant rows")
	}
	return counts, nil
}
