package memory

import (
	"context"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

// PrincipalRepository реализация репозитория жителей в памяти
type PrincipalRepository struct {
	store *Store
}

// Create сохраняет жителя. Email уникален глобально, квартира уникальна в сообществе.
func (r *PrincipalRepository) Create(ctx context.Context, principal *domain.Principal) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	tenant, err := txn.First(tableTenants, indexID, principal.TenantCode)
	if err != nil {
		return persistenceError(err, "failed to look up tenant")
	}
	if tenant == nil {
		return notFound("tenant")
	}

	if dup, err := txn.First(tablePrincipals, indexEmail, principal.Email); err != nil {
		return persistenceError(err, "failed to check email")
	} else if dup != nil {
		return apperrors.New(apperrors.ErrConflict, "email already registered")
	}

	if principal.UnitID != "" {
		if dup, err := txn.First(tablePrincipals, indexTenantUnit, principal.TenantCode, principal.UnitID); err != nil {
			return persistenceError(err, "failed to check unit")
		} else if dup != nil {
			return apperrors.New(apperrors.ErrConflict, "unit already registered")
		}
	}

	stored := *principal
	if err := txn.Insert(tablePrincipals, &stored); err != nil {
		return persistenceError(err, "failed to create principal")
	}

	txn.Commit()
	return nil
}

// FindByTenantAndEmail ищет жителя по паре (код сообщества, email)
func (r *PrincipalRepository) FindByTenantAndEmail(ctx context.Context, tenantCode, email string) (*domain.Principal, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tablePrincipals, indexTenantEmail, tenantCode, email)
	if err != nil {
		return nil, persistenceError(err, "failed to look up principal")
	}
	if raw == nil {
		return nil, notFound("principal")
	}

	principal := *raw.(*domain.Principal)
	return &principal, nil
}

// FindByTenantAndID ищет жителя по идентификатору в пределах сообщества
func (r *PrincipalRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Principal, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tablePrincipals, indexID, id)
	if err != nil {
		return nil, persistenceError(err, "failed to look up principal")
	}
	if raw == nil || raw.(*domain.Principal).TenantCode != tenantCode {
		return nil, notFound("principal")
	}

	principal := *raw.(*domain.Principal)
	return &principal, nil
}
