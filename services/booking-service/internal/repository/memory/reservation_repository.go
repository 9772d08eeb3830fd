package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

// ReservationRepository реализация репозитория бронирований в памяти
type ReservationRepository struct {
	store *Store
}

// CreateIfNoOverlap под блокировкой места проверяет пересечение и вставляет бронирование
func (r *ReservationRepository) CreateIfNoOverlap(ctx context.Context, reservation *domain.Reservation) error {
	release, err := r.store.locks.acquire(ctx, reservation.ResourceID, r.store.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	// Отмена до коммита не оставляет следов
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTryAgain, "request cancelled before commit")
	}

	txn := r.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableResources, indexID, reservation.ResourceID)
	if err != nil {
		return persistenceError(err, "failed to look up resource")
	}
	if raw == nil {
		return apperrors.New(apperrors.ErrResourceUnavailable, "resource not found")
	}
	resource := raw.(*domain.Resource)
	if resource.TenantCode != reservation.TenantCode {
		return apperrors.New(apperrors.ErrCrossTenantAccessDenied, "resource belongs to another tenant")
	}
	if resource.Status != domain.ResourceActive {
		return apperrors.New(apperrors.ErrResourceUnavailable, "resource is not active")
	}

	it, err := txn.Get(tableReservations, indexResource, reservation.ResourceID)
	if err != nil {
		return persistenceError(err, "failed to list reservations")
	}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		existing := obj.(*domain.Reservation)
		if existing.Status.HoldsSlot() && existing.Overlaps(reservation.Start, reservation.End) {
			return apperrors.New(apperrors.ErrSlotConflict, "slot already reserved")
		}
	}

	stored := *reservation
	if err := txn.Insert(tableReservations, &stored); err != nil {
		return persistenceError(err, "failed to create reservation")
	}

	txn.Commit()
	return nil
}

// FindByTenantAndID возвращает бронирование в пределах сообщества
func (r *ReservationRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Reservation, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableReservations, indexID, id)
	if err != nil {
		return nil, persistenceError(err, "failed to look up reservation")
	}
	if raw == nil || raw.(*domain.Reservation).TenantCode != tenantCode {
		return nil, notFound("reservation")
	}

	reservation := *raw.(*domain.Reservation)
	return &reservation, nil
}

// ListByRenter возвращает бронирования жителя, отсортированные по началу
func (r *ReservationRepository) ListByRenter(ctx context.Context, tenantCode, renterID string) ([]*domain.Reservation, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableReservations, indexRenter, tenantCode, renterID)
	if err != nil {
		return nil, persistenceError(err, "failed to list reservations")
	}
	return collectReservations(it, func(*domain.Reservation) bool { return true }), nil
}

// ListByResource возвращает бронирования места, отсортированные по началу
func (r *ReservationRepository) ListByResource(ctx context.Context, tenantCode, resourceID string) ([]*domain.Reservation, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableReservations, indexResource, resourceID)
	if err != nil {
		return nil, persistenceError(err, "failed to list reservations")
	}
	return collectReservations(it, func(res *domain.Reservation) bool {
		return res.TenantCode == tenantCode
	}), nil
}

// Transition выполняет compare-and-set статуса
func (r *ReservationRepository) Transition(ctx context.Context, tenantCode, id string, from, to domain.ReservationStatus) (*domain.Reservation, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableReservations, indexID, id)
	if err != nil {
		return nil, persistenceError(err, "failed to look up reservation")
	}
	if raw == nil || raw.(*domain.Reservation).TenantCode != tenantCode {
		return nil, notFound("reservation")
	}
	if raw.(*domain.Reservation).Status != from {
		return nil, apperrors.New(apperrors.ErrConflict, "reservation status changed")
	}

	updated := *raw.(*domain.Reservation)
	updated.Status = to
	updated.UpdatedAt = r.store.now().UTC()
	if err := txn.Insert(tableReservations, &updated); err != nil {
		return nil, persistenceError(err, "failed to update reservation")
	}

	txn.Commit()

	result := updated
	return &result, nil
}

// CompleteEnded переводит завершившиеся подтвержденные бронирования в completed
func (r *ReservationRepository) CompleteEnded(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(tableReservations, indexStatus, string(domain.ReservationConfirmed))
	if err != nil {
		return nil, persistenceError(err, "failed to list confirmed reservations")
	}
	ended := collectReservations(it, func(res *domain.Reservation) bool {
		return !res.End.After(now)
	})

	for _, res := range ended {
		res.Status = domain.ReservationCompleted
		res.UpdatedAt = now.UTC()
		stored := *res
		if err := txn.Insert(tableReservations, &stored); err != nil {
			return nil, persistenceError(err, "failed to complete reservation")
		}
	}

	txn.Commit()
	return ended, nil
}

// collectReservations копирует объекты из итератора, чтобы вызывающий не изменял данные memdb
func collectReservations(it memdb.ResultIterator, keep func(*domain.Reservation) bool) []*domain.Reservation {
	reservations := []*domain.Reservation{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		res := obj.(*domain.Reservation)
		if !keep(res) {
			continue
		}
		copied := *res
		reservations = append(reservations, &copied)
	}

	sort.Slice(reservations, func(i, j int) bool {
		if reservations[i].Start.Equal(reservations[j].Start) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].Start.Before(reservations[j].Start)
	})
	return reservations
}
