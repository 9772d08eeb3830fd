package repository

import (
	"context"
	"time"

	"CondoParkPlatform/services/booking-service/internal/domain"
)

// TenantRepository интерфейс для работы с сообществами
type TenantRepository interface {
	// Create возвращает ErrCodeAlreadyInUse, если код занят
	Create(ctx context.Context, tenant *domain.Tenant) error
	FindByCode(ctx context.Context, code string) (*domain.Tenant, error)
	Exists(ctx context.Context, code string) (bool, error)
}

// PrincipalRepository интерфейс для работы с жителями.
// Поиск всегда идет в паре с кодом сообщества.
type PrincipalRepository interface {
	// Create возвращает ErrConflict при повторе email или квартиры в сообществе
	Create(ctx context.Context, principal *domain.Principal) error
	FindByTenantAndEmail(ctx context.Context, tenantCode, email string) (*domain.Principal, error)
	FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Principal, error)
}

// ResourceRepository интерфейс для работы с парковочными местами
type ResourceRepository interface {
	Create(ctx context.Context, resource *domain.Resource) error
	// FindByID ищет место без фильтра по сообществу.
	// Используется только перед проверкой AuthorizeTenant в ядре бронирования.
	FindByID(ctx context.Context, id string) (*domain.Resource, error)
	FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Resource, error)
	ListByTenant(ctx context.Context, tenantCode string) ([]*domain.Resource, error)
	UpdateStatus(ctx context.Context, tenantCode, id string, status domain.ResourceStatus) (*domain.Resource, error)
}

// ReservationRepository интерфейс для работы с бронированиями
type ReservationRepository interface {
	// CreateIfNoOverlap атомарно проверяет пересечение с бронированиями,
	// занимающими место, и вставляет новое. Ошибки: ErrSlotConflict,
	// ErrTryAgain (не удалось дождаться блокировки), ErrResourceUnavailable.
	CreateIfNoOverlap(ctx context.Context, reservation *domain.Reservation) error
	FindByTenantAndID(ctx context.Context, tenantCode, id string) (*domain.Reservation, error)
	ListByRenter(ctx context.Context, tenantCode, renterID string) ([]*domain.Reservation, error)
	ListByResource(ctx context.Context, tenantCode, resourceID string) ([]*domain.Reservation, error)
	// Transition выполняет compare-and-set статуса from -> to.
	// Если текущий статус не равен from, возвращает ErrConflict.
	Transition(ctx context.Context, tenantCode, id string, from, to domain.ReservationStatus) (*domain.Reservation, error)
	// CompleteEnded переводит подтвержденные бронирования с End <= now в completed
	CompleteEnded(ctx context.Context, now time.Time) ([]*domain.Reservation, error)
}

// RotationRepository выполняет замену кода сообщества во всех таблицах
type RotationRepository interface {
	CountByTenant(ctx context.Context, code string) (domain.TableCounts, error)
	// RotateTenantCode в одной транзакции заменяет код, проверяет, что ни одна
	// строка больше не ссылается на старый код, отзывает старый код на revokeFor
	// (0 - без отзыва) и возвращает число перенесенных строк
	RotateTenantCode(ctx context.Context, oldCode, newCode string, revokeFor time.Duration) (domain.TableCounts, error)
}

// RevocationRepository хранит отозванные после ротации коды.
// Живет в хранилище сообществ, поэтому отзыв виден всем процессам с общим хранилищем.
type RevocationRepository interface {
	Revoke(ctx context.Context, code string, ttl time.Duration) error
	IsRevoked(ctx context.Context, code string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// Store набор репозиториев одного хранилища
type Store struct {
	Tenants      TenantRepository
	Principals   PrincipalRepository
	Resources    ResourceRepository
	Reservations ReservationRepository
	Rotation     RotationRepository
	Revocations  RevocationRepository
	// Ping проверяет доступность хранилища для /ready
	Ping func(ctx context.Context) error
}
