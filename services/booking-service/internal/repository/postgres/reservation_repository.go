package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

const reservationColumns = `id, resource_id, renter_id, tenant_code, start_at, end_at, price::text, status, created_at, updated_at`

// ReservationRepository реализация репозитория бронирований для PostgreSQL
type ReservationRepository struct {
	*BaseRepository
	lockTimeout time.Duration
	maxRetries  int
}

// NewReservationRepository создает новый экземпляр ReservationRepository
func NewReservationRepository(pool *pgxpool.Pool, opts Options) repository.ReservationRepository {
	return &ReservationRepository{
		BaseRepository: NewBaseRepository(pool),
		lockTimeout:    opts.LockTimeout,
		maxRetries:     opts.MaxRetries,
	}
}

// CreateIfNoOverlap в сериализуемой транзакции блокирует строку места,
// проверяет пересечение и вставляет бронирование. Ограничение исключения
// в схеме страхует ту же инварианту на уровне базы.
func (r *ReservationRepository) CreateIfNoOverlap(ctx context.Context, reservation *domain.Reservation) error {
	err := r.InTx(ctx, pgx.Serializable, r.maxRetries, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return err
		}

		var tenantCode, status string
		err := tx.QueryRow(ctx,
			`SELECT tenant_code, status FROM resources WHERE id = $1 FOR UPDATE`,
			reservation.ResourceID,
		).Scan(&tenantCode, &status)
		if err == pgx.ErrNoRows {
			return apperrors.New(apperrors.ErrResourceUnavailable, "resource not found")
		}
		if err != nil {
			return err
		}
		if tenantCode != reservation.TenantCode {
			return apperrors.New(apperrors.ErrCrossTenantAccessDenied, "resource belongs to another tenant")
		}
		if domain.ResourceStatus(status) != domain.ResourceActive {
			return apperrors.New(apperrors.ErrResourceUnavailable, "resource is not active")
		}

		var overlaps bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE resource_id = $1
				  AND status IN ('pending', 'confirmed')
				  AND start_at < $3
				  AND end_at > $2
			)`,
			reservation.ResourceID, reservation.Start, reservation.End,
		).Scan(&overlaps)
		if err != nil {
			return err
		}
		if overlaps {
			return apperrors.New(apperrors.ErrSlotConflict, "slot already reserved")
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO reservations (id, resource_id, renter_id, tenant_code, start_at, end_at, price, status, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10
			WHERE EXISTS (SELECT 1 FROM principals WHERE id = $3 AND tenant_code = $4)`,
			reservation.ID,
			reservation.ResourceID,
			reservation.RenterID,
			reservation.TenantCode,
			reservation.Start,
			reservation.End,
			reservation.Price.String(),
			string(reservation.Status),
			reservation.CreatedAt,
			reservation.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.New(apperrors.ErrNotFound, "renter not found")
		}
		return nil
	})

	return classify(err, "failed to create reservation")
}

// FindByTenantAndID возвращает бронирование в пределах сообщества
func (r *ReservationRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_code = $1 AND id = $2`
	return scanReservation(r.Pool.QueryRow(ctx, query, tenantCode, id))
}

// ListByRenter возвращает бронирования жителя
func (r *ReservationRepository) ListByRenter(ctx context.Context, tenantCode, renterID string) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE tenant_code = $1 AND renter_id = $2 ORDER BY start_at, id`
	return r.list(ctx, query, tenantCode, renterID)
}

// ListByResource возвращает бронирования места
func (r *ReservationRepository) ListByResource(ctx context.Context, tenantCode, resourceID string) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE tenant_code = $1 AND resource_id = $2 ORDER BY start_at, id`
	return r.list(ctx, query, tenantCode, resourceID)
}

// Transition выполняет compare-and-set статуса одним UPDATE
func (r *ReservationRepository) Transition(ctx context.Context, tenantCode, id string, from, to domain.ReservationStatus) (*domain.Reservation, error) {
	query := `UPDATE reservations SET status = $4, updated_at = now()
		WHERE tenant_code = $1 AND id = $2 AND status = $3
		RETURNING ` + reservationColumns

	reservation, err := scanReservation(r.Pool.QueryRow(ctx, query, tenantCode, id, string(from), string(to)))
	if err == nil {
		return reservation, nil
	}
	if !apperrors.HasCode(err, apperrors.ErrNotFound) {
		return nil, err
	}

	// Строка не обновлена: либо ее нет, либо статус уже изменен
	var exists bool
	if qerr := r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reservations WHERE tenant_code = $1 AND id = $2)`,
		tenantCode, id,
	).Scan(&exists); qerr != nil {
		return nil, classify(qerr, "failed to check reservation")
	}
	if exists {
		return nil, apperrors.New(apperrors.ErrConflict, "reservation status changed")
	}
	return nil, apperrors.New(apperrors.ErrNotFound, "reservation not found")
}

// CompleteEnded переводит завершившиеся подтвержденные бронирования в completed
func (r *ReservationRepository) CompleteEnded(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	query := `UPDATE reservations SET status = 'completed', updated_at = $1
		WHERE status = 'confirmed' AND end_at <= $1
		RETURNING ` + reservationColumns

	return r.list(ctx, query, now)
}

func (r *ReservationRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Reservation, error) {
	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "failed to list reservations")
	}
	defer rows.Close()

	reservations := []*domain.Reservation{}
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to list reservations")
	}

	return reservations, nil
}

func scanReservation(row interface{ Scan(dest ...any) error }) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		price  string
		status string
	)
	err := row.Scan(
		&res.ID,
		&res.ResourceID,
		&res.RenterID,
		&res.TenantCode,
		&res.Start,
		&res.End,
		&price,
		&status,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "reservation not found")
	}

	res.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistenceFailure, "invalid stored price")
	}
	res.Status = domain.ReservationStatus(status)
	res.Start = utc(res.Start)
	res.End = utc(res.End)
	res.CreatedAt = utc(res.CreatedAt)
	res.UpdatedAt = utc(res.UpdatedAt)
	return &res, nil
}
