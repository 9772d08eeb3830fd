package memory

import (
	"context"
	"sort"

	"CondoParkPlatform/services/booking-service/internal/domain"
)

// ResourceRepository реализация репозитория мест в памяти
type ResourceRepository struct {
	store *Store
}

// Create сохраняет новое место. Владелец должен принадлежать тому же сообществу.
func (r *ResourceRepository) Create(ctx context.Context, resource *domain.Resource) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	owner, err := txn.First(tablePrincipals, indexID, resource.OwnerID)
	if err != nil {
		return persistenceError(err, "failed to look up owner")
	}
	if owner == nil || owner.(*domain.Principal).TenantCode != resource.TenantCode {
		return notFound("owner")
	}

	stored := *resource
	if err := txn.Insert(tableResources, &stored); err != nil {
		return persistenceError(err, "failed to create resource")
	}

	txn.Commit()
	return nil
}

// FindByID возвращает место без фильтра по сообществу
func (r *ResourceRepository) FindByID(ctx context.Context, id string) (*domain.Resource, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableResources, indexID, id)
	if err != nil {
		return nil, persistenceError(err, "failed to look up resource")
	}
	if raw == nil {
		return nil, notFound("resource")
	}

	resource := *raw.(*domain.Resource)
	return &resource, nil
}

// FindByTenantAndID возвращает место в пределах сообщества
func (r *ResourceRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Resource, error) {
	resource, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if resource.TenantCode != tenantCode {
		return nil, notFound("resource")
	}
	return resource, nil
}

// ListByTenant возвращает места сообщества, отсортированные по названию
func (r *ResourceRepository) ListByTenant(ctx context.Context, tenantCode string) ([]*domain.Resource, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableResources, indexTenant, tenantCode)
	if err != nil {
		return nil, persistenceError(err, "failed to list resources")
	}

	resources := []*domain.Resource{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		resource := *raw.(*domain.Resource)
		resources = append(resources, &resource)
	}

	sort.Slice(resources, func(i, j int) bool {
		if resources[i].Label == resources[j].Label {
			return resources[i].ID < resources[j].ID
		}
		return resources[i].Label < resources[j].Label
	})
	return resources, nil
}

// UpdateStatus меняет статус места
func (r *ResourceRepository) UpdateStatus(ctx context.Context, tenantCode, id string, status domain.ResourceStatus) (*domain.Resource, error) {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableResources, indexID, id)
	if err != nil {
		return nil, persistenceError(err, "failed to look up resource")
	}
	if raw == nil || raw.(*domain.Resource).TenantCode != tenantCode {
		return nil, notFound("resource")
	}

	updated := *raw.(*domain.Resource)
	updated.Status = status
	updated.UpdatedAt = r.store.now().UTC()
	if err := txn.Insert(tableResources, &updated); err != nil {
		return nil, persistenceError(err, "failed to update resource")
	}

	txn.Commit()

	result := updated
	return &result, nil
}
