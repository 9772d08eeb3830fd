package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// TenantRepository реализация репозитория сообществ для PostgreSQL
type TenantRepository struct {
	*BaseRepository
}

// NewTenantRepository создает новый экземпляр TenantRepository
func NewTenantRepository(pool *pgxpool.Pool) repository.TenantRepository {
	return &TenantRepository{BaseRepository: NewBaseRepository(pool)}
}

// Create сохраняет новое сообщество в базе данных
func (r *TenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	query := `INSERT INTO tenants (code, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.Pool.Exec(ctx, query,
		tenant.Code,
		tenant.Name,
		string(tenant.Status),
		tenant.CreatedAt,
		tenant.UpdatedAt)

	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return apperrors.Wrap(err, apperrors.ErrCodeAlreadyInUse, "tenant code already in use")
		}
		return classify(err, "failed to create tenant")
	}

	return nil
}

// FindByCode возвращает сообщество по коду
func (r *TenantRepository) FindByCode(ctx context.Context, code string) (*domain.Tenant, error) {
	query := `SELECT code, name, status, created_at, updated_at
		FROM tenants WHERE code = $1`

	var (
		tenant domain.Tenant
		status string
	)
	err := r.Pool.QueryRow(ctx, query, code).Scan(
		&tenant.Code,
		&tenant.Name,
		&status,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "tenant not found")
	}

	tenant.Status = domain.TenantStatus(status)
	tenant.CreatedAt = utc(tenant.CreatedAt)
	tenant.UpdatedAt = utc(tenant.UpdatedAt)
	return &tenant, nil
}

// Exists проверяет наличие сообщества с кодом
func (r *TenantRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, classify(err, "failed to check tenant")
	}
	return exists, nil
}
