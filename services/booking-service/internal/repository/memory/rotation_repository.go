package memory

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

// RotationRepository заменяет код сообщества во всех таблицах одной транзакцией memdb
type RotationRepository struct {
	store *Store
}

// CountByTenant считает строки, ссылающиеся на код
func (r *RotationRepository) CountByTenant(ctx context.Context, code string) (domain.TableCounts, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	return countByTenant(txn, code)
}

// RotateTenantCode переписывает код сообщества и все зависимые строки
// и в той же транзакции отзывает старый код на revokeFor
func (r *RotationRepository) RotateTenantCode(ctx context.Context, oldCode, newCode string, revokeFor time.Duration) (domain.TableCounts, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableTenants, indexID, oldCode)
	if err != nil {
		return domain.TableCounts{}, persistenceError(err, "failed to look up tenant")
	}
	if raw == nil {
		return domain.TableCounts{}, apperrors.New(apperrors.ErrUnknownCode, "tenant code not found")
	}
	if dup, err := txn.First(tableTenants, indexID, newCode); err != nil {
		return domain.TableCounts{}, persistenceError(err, "failed to look up tenant")
	} else if dup != nil {
		return domain.TableCounts{}, apperrors.New(apperrors.ErrCodeAlreadyInUse, "tenant code already in use")
	}

	counts, err := countByTenant(txn, oldCode)
	if err != nil {
		return domain.TableCounts{}, err
	}

	now := r.store.now().UTC()

	// Код является первичным ключом сообщества, поэтому строка пересоздается
	tenant := *raw.(*domain.Tenant)
	if err := txn.Delete(tableTenants, raw); err != nil {
		return domain.TableCounts{}, persistenceError(err, "failed to remove old tenant row")
	}
	tenant.Code = newCode
	tenant.UpdatedAt = now
	if err := txn.Insert(tableTenants, &tenant); err != nil {
		return domain.TableCounts{}, persistenceError(err, "failed to insert rotated tenant")
	}

	if err := rewrite(txn, tablePrincipals, oldCode, func(obj interface{}) interface{} {
		p := *obj.(*domain.Principal)
		p.TenantCode = newCode
		return &p
	}); err != nil {
		return domain.TableCounts{}, err
	}
	if err := rewrite(txn, tableResources, oldCode, func(obj interface{}) interface{} {
		res := *obj.(*domain.Resource)
		res.TenantCode = newCode
		return &res
	}); err != nil {
		return domain.TableCounts{}, err
	}
	if err := rewrite(txn, tableReservations, oldCode, func(obj interface{}) interface{} {
		res := *obj.(*domain.Reservation)
		res.TenantCode = newCode
		return &res
	}); err != nil {
		return domain.TableCounts{}, err
	}

	remaining, err := countByTenant(txn, oldCode)
	if err != nil {
		return domain.TableCounts{}, err
	}
	if remaining.Total() != 0 {
		return domain.TableCounts{}, apperrors.New(apperrors.ErrPersistenceFailure, "rows still reference the old tenant code")
	}

	if revokeFor > 0 {
		if err := revoke(txn, oldCode, now.Add(revokeFor)); err != nil {
			return domain.TableCounts{}, err
		}
	}

	txn.Commit()
	return counts, nil
}

// rewrite заменяет все строки таблицы с кодом сообщества на измененные копии
func rewrite(txn *memdb.Txn, table, code string, mutate func(obj interface{}) interface{}) error {
	it, err := txn.Get(table, indexTenant, code)
	if err != nil {
		return persistenceError(err, "failed to list "+table)
	}

	// Итератор нельзя использовать во время изменения таблицы
	var rows []interface{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj)
	}

	for _, obj := range rows {
		if err := txn.Insert(table, mutate(obj)); err != nil {
			return persistenceError(err, "failed to rewrite "+table)
		}
	}
	return nil
}

func countByTenant(txn *memdb.Txn, code string) (domain.TableCounts, error) {
	var counts domain.TableCounts

	tenant, err := txn.First(tableTenants, indexID, code)
	if err != nil {
		return counts, persistenceError(err, "failed to look up tenant")
	}
	if tenant != nil {
		counts.Tenants = 1
	}

	for table, target := range map[string]*int64{
		tablePrincipals:   &counts.Principals,
		tableResources:    &counts.Resources,
		tableReservations: &counts.Reservations,
	} {
		it, err := txn.Get(table, indexTenant, code)
		if err != nil {
			return counts, persistenceError(err, "failed to count "+table)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			*target++
		}
	}
	return counts, nil
}
