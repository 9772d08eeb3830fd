package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

const (
	tableTenants      = "tenants"
	tablePrincipals   = "principals"
	tableResources    = "resources"
	tableReservations = "reservations"
	tableRevocations  = "revocations"

	indexID          = "id"
	indexTenant      = "tenant"
	indexEmail       = "email"
	indexTenantEmail = "tenant_email"
	indexTenantUnit  = "tenant_unit"
	indexResource    = "resource"
	indexRenter      = "renter"
	indexStatus      = "status"
)

func stringIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{
		Name:    name,
		Indexer: &memdb.StringFieldIndex{Field: field},
	}
}

func compoundIndex(name string, fields ...string) *memdb.IndexSchema {
	indexes := make([]memdb.Indexer, 0, len(fields))
	for _, f := range fields {
		indexes = append(indexes, &memdb.StringFieldIndex{Field: f})
	}
	return &memdb.IndexSchema{
		Name:    name,
		Indexer: &memdb.CompoundIndex{Indexes: indexes},
	}
}

// optional разрешает строки без значения индекса (например, житель без квартиры)
func optional(index *memdb.IndexSchema) *memdb.IndexSchema {
	index.AllowMissing = true
	return index
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTenants: {
				Name: tableTenants,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Code"}},
				},
			},
			tablePrincipals: {
				Name: tablePrincipals,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:          {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexTenant:      stringIndex(indexTenant, "TenantCode"),
					indexEmail:       stringIndex(indexEmail, "Email"),
					indexTenantEmail: compoundIndex(indexTenantEmail, "TenantCode", "Email"),
					indexTenantUnit:  optional(compoundIndex(indexTenantUnit, "TenantCode", "UnitID")),
				},
			},
			tableResources: {
				Name: tableResources,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:     {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexTenant: stringIndex(indexTenant, "TenantCode"),
				},
			},
			tableReservations: {
				Name: tableReservations,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					indexTenant:   stringIndex(indexTenant, "TenantCode"),
					indexResource: stringIndex(indexResource, "ResourceID"),
					indexRenter:   compoundIndex(indexRenter, "TenantCode", "RenterID"),
					indexStatus:   stringIndex(indexStatus, "Status"),
				},
			},
			tableRevocations: {
				Name: tableRevocations,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Code"}},
				},
			},
		},
	}
}

// Store транзакционное хранилище в памяти процесса на go-memdb.
// Проверка пересечения и вставка бронирования выполняются под блокировкой
// места с ограниченным ожиданием и внутри одной write-транзакции memdb.
type Store struct {
	db          *memdb.MemDB
	locks       *resourceLocks
	lockTimeout time.Duration
	now         func() time.Time
}

// Option настраивает Store
type Option func(*Store)

// WithLockTimeout задает максимальное ожидание блокировки места
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore создает пустое хранилище
func NewStore(opts ...Option) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}

	s := &Store{
		db:          db,
		locks:       newResourceLocks(),
		lockTimeout: 2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Repositories возвращает набор репозиториев поверх хранилища
func (s *Store) Repositories() *repository.Store {
	return &repository.Store{
		Tenants:      &TenantRepository{store: s},
		Principals:   &PrincipalRepository{store: s},
		Resources:    &ResourceRepository{store: s},
		Reservations: &ReservationRepository{store: s},
		Rotation:     &RotationRepository{store: s},
		Revocations:  &RevocationRepository{store: s},
		Ping:         func(ctx context.Context) error { return nil },
	}
}

// resourceLocks блокировки отдельных мест. Канал с буфером 1 служит мьютексом
// с возможностью ожидания по таймауту. Запись удаляется, когда у нее не остается
// ни владельца, ни ожидающих.
type resourceLocks struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

type resourceLock struct {
	ch   chan struct{}
	refs int
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[string]*resourceLock)}
}

func (l *resourceLocks) get(id string) *resourceLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[id]
	if !ok {
		lock = &resourceLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lock
	}
	lock.refs++
	return lock
}

func (l *resourceLocks) put(id string, lock *resourceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, id)
	}
}

// len число мест с активными блокировками
func (l *resourceLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// acquire захватывает блокировку места или возвращает ErrTryAgain по таймауту
func (l *resourceLocks) acquire(ctx context.Context, id string, timeout time.Duration) (func(), error) {
	lock := l.get(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			l.put(id, lock)
		}, nil
	case <-timer.C:
		l.put(id, lock)
		return nil, apperrors.New(apperrors.ErrTryAgain, "timed out waiting for resource lock")
	case <-ctx.Done():
		l.put(id, lock)
		return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrTryAgain, "cancelled while waiting for resource lock")
	}
}

func notFound(entity string) error {
	return apperrors.New(apperrors.ErrNotFound, entity+" not found")
}

func persistenceError(err error, message string) error {
	return apperrors.Wrap(err, apperrors.ErrPersistenceFailure, message)
}
