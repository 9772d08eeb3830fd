package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"CondoParkPlatform/services/booking-service/internal/repository"
)

// revokeQuery вставляет или продлевает отзыв кода. $2 - срок в секундах.
const revokeQuery = `INSERT INTO revoked_tenant_codes (code, revoked_at, expires_at)
	VALUES ($1, now(), now() + make_interval(secs => $2))
	ON CONFLICT (code) DO UPDATE
	SET revoked_at = EXCLUDED.revoked_at, expires_at = EXCLUDED.expires_at`

// RevocationRepository реализация списка отозванных кодов для PostgreSQL
type RevocationRepository struct {
	*BaseRepository
}

// NewRevocationRepository создает новый экземпляр RevocationRepository
func NewRevocationRepository(pool *pgxpool.Pool) repository.RevocationRepository {
	return &RevocationRepository{BaseRepository: NewBaseRepository(pool)}
}

// Revoke отзывает код на время ttl
func (r *RevocationRepository) Revoke(ctx context.Context, code string, ttl time.Duration) error {
	if _, err := r.Pool.Exec(ctx, revokeQuery, code, ttl.Seconds()); err != nil {
		return classify(err, "failed to revoke tenant code")
	}
	return nil
}

// IsRevoked проверяет, отозван ли код и не истек ли срок отзыва
func (r *RevocationRepository) IsRevoked(ctx context.Context, code string) (bool, error) {
	var revoked bool
	err := r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tenant_codes WHERE code = $1 AND expires_at > now())`,
		code,
	).Scan(&revoked)
	if err != nil {
		return false, classify(err, "failed to check revocation")
	}
	return revoked, nil
}

// List возвращает действующие отозванные коды
func (r *RevocationRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT code FROM revoked_tenant_codes WHERE expires_at > now() ORDER BY code`)
	if err != nil {
		return nil, classify(err, "failed to list revocations")
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, classify(err, "failed to scan revocation")
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to list revocations")
	}
	return codes, nil
}
