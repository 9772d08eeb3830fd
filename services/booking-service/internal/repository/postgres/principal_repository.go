package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

const principalColumns = `id, tenant_code, email, COALESCE(unit_id, ''), password_hash, is_active, created_at, updated_at`

// PrincipalRepository реализация репозитория жителей для PostgreSQL
type PrincipalRepository struct {
	*BaseRepository
}

// NewPrincipalRepository создает новый экземпляр PrincipalRepository
func NewPrincipalRepository(pool *pgxpool.Pool) repository.PrincipalRepository {
	return &PrincipalRepository{BaseRepository: NewBaseRepository(pool)}
}

// Create сохраняет нового жителя в базе данных
func (r *PrincipalRepository) Create(ctx context.Context, principal *domain.Principal) error {
	query := `INSERT INTO principals (id, tenant_code, email, unit_id, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`

	_, err := r.Pool.Exec(ctx, query,
		principal.ID,
		principal.TenantCode,
		principal.Email,
		principal.UnitID,
		principal.PasswordHash,
		principal.IsActive,
		principal.CreatedAt,
		principal.UpdatedAt)

	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return apperrors.Wrap(err, apperrors.ErrConflict, "email or unit already registered")
		case codeForeignKeyViolation:
			return apperrors.Wrap(err, apperrors.ErrNotFound, "tenant not found")
		}
		return classify(err, "failed to create principal")
	}

	return nil
}

// FindByTenantAndEmail ищет жителя по паре (код сообщества, email)
func (r *PrincipalRepository) FindByTenantAndEmail(ctx context.Context, tenantCode, email string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE tenant_code = $1 AND email = $2`
	return scanPrincipal(r.Pool.QueryRow(ctx, query, tenantCode, email))
}

// FindByTenantAndID ищет жителя по идентификатору в пределах сообщества
func (r *PrincipalRepository) FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE tenant_code = $1 AND id = $2`
	return scanPrincipal(r.Pool.QueryRow(ctx, query, tenantCode, id))
}

func scanPrincipal(row interface{ Scan(dest ...any) error }) (*domain.Principal, error) {
	var p domain.Principal
	err := row.Scan(
		&p.ID,
		&p.TenantCode,
		&p.Email,
		&p.UnitID,
		&p.PasswordHash,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, classify(err, "principal not found")
	}

	p.CreatedAt = utc(p.CreatedAt)
	p.UpdatedAt = utc(p.UpdatedAt)
	return &p, nil
}
