package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

const resourceColumns = `id, tenant_code, owner_id, label, rate::text, status, created_at, updated_at`

// ResourceRepository реализация репозитория мест для PostgreSQL
type ResourceRepository struct {
	*BaseRepository
}

// NewResourceRepository создает новый экземпляр ResourceRepository
func NewResourceRepository(pool *pgxpool.Pool) repository.ResourceRepository {
	return &ResourceRepository{BaseRepository: NewBaseRepository(pool)}
}

// Create сохраняет новое место. Вставка проходит, только если владелец
// принадлежит тому же сообществу.
func (r *ResourceRepository) Create(ctx context.Context, resource *domain.Resource) error {
	query := `INSERT INTO resources (id, tenant_code, owner_id, label, rate, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5::numeric, $6, $7, $8
		WHERE EXISTS (SELECT 1 FROM principals WHERE id = $3 AND tenant_code = $2)`

	tag, err := r.Pool.Exec(ctx, query,
		resource.ID,
		resource.TenantCode,
		resource.OwnerID,
		resource.Label,
		resource.RatePerHour.String(),
		string(resource.Status),
		resource.CreatedAt,
		resource.UpdatedAt)

	if err != nil {
		return classify(err, "failed to create resource")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "owner not found")
	}

	return nil
}

// FindByID возвращает место без фильтра по сообществу
func (r *ResourceRepository) FindByID(ctx context.Context, id string) (*domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`
	return scanResource(r.Pool.QueryRow(ctx, query, id))
}

// FindByTenantAndID возвращает место в пределах сообщества
func (r *ResourceRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE tenant_code = $1 AND id = $2`
	return scanResource(r.Pool.QueryRow(ctx, query, tenantCode, id))
}

// ListByTenant возвращает места сообщества, отсортированные по названию
func (r *ResourceRepository) ListByTenant(ctx context.Context, tenantCode string) ([]*domain.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE tenant_code = $1 ORDER BY label, id`

	rows, err := r.Pool.Query(ctx, query, tenantCode)
	if err != nil {
		return nil, classify(err, "failed to list resources")
	}
	defer rows.Close()

	resources := []*domain.Resource{}
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to list resources")
	}

	return resources, nil
}

// UpdateStatus меняет статус места
func (r *ResourceRepository) UpdateStatus(ctx context.Context, tenantCode, id string, status domain.ResourceStatus) (*domain.Resource, error) {
	query := `UPDATE resources SET status = $3, updated_at = now()
		WHERE tenant_code = $1 AND id = $2
		RETURNING ` + resourceColumns

	return scanResource(r.Pool.QueryRow(ctx, query, tenantCode, id, string(status)))
}

func scanResource(row interface{ Scan(dest ...any) error }) (*domain.Resource, error) {
	var (
		res    domain.Resource
		rate   string
		status string
	)
	err := row.Scan(
		&res.ID,
		&res.TenantCode,
		&res.OwnerID,
		&res.Label,
		&rate,
		&status,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "resource not found")
	}

	res.RatePerHour, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrPersistenceFailure, "invalid stored rate")
	}
	res.Status = domain.ResourceStatus(status)
	res.CreatedAt = utc(res.CreatedAt)
	res.UpdatedAt = utc(res.UpdatedAt)
	return &res, nil
}
