package memory

import (
	"context"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

// TenantRepository реализация репозитория сообществ в памяти
type TenantRepository struct {
	store *Store
}

// Create сохраняет новое сообщество
func (r *TenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableTenants, indexID, tenant.Code)
	if err != nil {
		return persistenceError(err, "failed to look up tenant")
	}
	if existing != nil {
		return apperrors.New(apperrors.ErrCodeAlreadyInUse, "tenant code already in use")
	}

	stored := *tenant
	if err := txn.Insert(tableTenants, &stored); err != nil {
		return persistenceError(err, "failed to create tenant")
	}

	txn.Commit()
	return nil
}

// FindByCode возвращает сообщество по коду
func (r *TenantRepository) FindByCode(ctx context.Context, code string) (*domain.Tenant, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTenants, indexID, code)
	if err != nil {
		return nil, persistenceError(err, "failed to look up tenant")
	}
	if raw == nil {
		return nil, notFound("tenant")
	}

	tenant := *raw.(*domain.Tenant)
	return &tenant, nil
}

// Exists проверяет наличие сообщества с кодом
func (r *TenantRepository) Exists(ctx context.Context, code string) (bool, error) {
	_, err := r.FindByCode(ctx, code)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
