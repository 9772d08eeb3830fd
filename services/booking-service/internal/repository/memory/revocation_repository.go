package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
)

// revokedCode строка таблицы отозванных кодов
type revokedCode struct {
	Code      string
	ExpiresAt time.Time
}

// RevocationRepository хранит отозванные коды в том же хранилище, что и сообщества.
// Ротация пишет отзыв в своей транзакции.
type RevocationRepository struct {
	store *Store
}

// Revoke отзывает код на время ttl
func (r *RevocationRepository) Revoke(ctx context.Context, code string, ttl time.Duration) error {
	txn := r.store.db.Txn(true)
	defer txn.Abort()

	if err := revoke(txn, code, r.store.now().Add(ttl)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// IsRevoked проверяет, отозван ли код
func (r *RevocationRepository) IsRevoked(ctx context.Context, code string) (bool, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableRevocations, indexID, code)
	if err != nil {
		return false, persistenceError(err, "failed to check revocation")
	}
	if raw == nil {
		return false, nil
	}
	return r.store.now().Before(raw.(*revokedCode).ExpiresAt), nil
}

// List возвращает действующие отозванные коды
func (r *RevocationRepository) List(ctx context.Context) ([]string, error) {
	txn := r.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableRevocations, indexID)
	if err != nil {
		return nil, persistenceError(err, "failed to list revocations")
	}

	now := r.store.now()
	codes := []string{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if row := obj.(*revokedCode); now.Before(row.ExpiresAt) {
			codes = append(codes, row.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// revoke вставляет или продлевает отзыв внутри открытой транзакции
func revoke(txn *memdb.Txn, code string, expiresAt time.Time) error {
	if err := txn.Insert(tableRevocations, &revokedCode{Code: code, ExpiresAt: expiresAt}); err != nil {
		return persistenceError(err, "failed to revoke tenant code")
	}
	return nil
}
