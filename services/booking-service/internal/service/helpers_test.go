package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/pkg/jwt"
	"CondoParkPlatform/services/booking-service/internal/pkg/password"
	"CondoParkPlatform/services/booking-service/internal/pricing"
	"CondoParkPlatform/services/booking-service/internal/repository"
	"CondoParkPlatform/services/booking-service/internal/repository/memory"
	"CondoParkPlatform/services/booking-service/internal/service"
)

const (
	tenantA      = "cp_aaaaaaaaaaaaaaaaaaaaaaaaaa"
	tenantB      = "cp_bbbbbbbbbbbbbbbbbbbbbbbbbb"
	testPassword = "Secr3tPassword"
	testSecret   = "test-secret-key-that-is-long-enough"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MockPublisher записывает опубликованные события
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type env struct {
	clock       *fakeClock
	repos       *repository.Store
	revocations repository.RevocationRepository
	tokens      *jwt.Manager
	hasher      *password.BcryptHasher
	guard       *service.Guard
	log         logger.Logger
	logs        *observer.ObservedLogs
	metrics     *metrics.Metrics
	publisher   *MockPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clock := &fakeClock{now: base}
	store, err := memory.NewStore(memory.WithLockTimeout(time.Second), memory.WithClock(clock.Now))
	require.NoError(t, err)

	log, logs := logger.NewObservedLogger("debug")
	reg := prometheus.NewRegistry()

	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	repos := store.Repositories()
	e := &env{
		clock:       clock,
		repos:       repos,
		revocations: repos.Revocations,
		tokens:      jwt.NewManager(testSecret, "condopark", time.Hour, jwt.WithClock(clock.Now)),
		hasher:      password.NewBcryptHasher(bcrypt.MinCost),
		log:         log,
		logs:        logs,
		metrics:     metrics.NewMetricsWithRegistry("booking", reg, reg),
		publisher:   publisher,
	}
	e.guard = service.NewGuard(e.tokens, e.revocations, log, e.metrics)

	e.seedTenant(t, tenantA)
	e.seedTenant(t, tenantB)
	return e
}

func (e *env) seedTenant(t *testing.T, code string) {
	t.Helper()
	require.NoError(t, e.repos.Tenants.Create(context.Background(), &domain.Tenant{
		Code: code, Name: code, Status: domain.TenantActive, CreatedAt: base, UpdatedAt: base,
	}))
}

func (e *env) seedPrincipal(t *testing.T, tenantCode, email, unit string) domain.Caller {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)

	p := &domain.Principal{
		ID: uuid.NewString(), TenantCode: tenantCode, Email: email, UnitID: unit,
		PasswordHash: hash, IsActive: true, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, e.repos.Principals.Create(context.Background(), p))
	return domain.Caller{PrincipalID: p.ID, TenantCode: tenantCode}
}

func (e *env) seedResource(t *testing.T, owner domain.Caller, label, rate string) *domain.Resource {
	t.Helper()
	r := &domain.Resource{
		ID: uuid.NewString(), TenantCode: owner.TenantCode, OwnerID: owner.PrincipalID, Label: label,
		RatePerHour: decimal.RequireFromString(rate), Status: domain.ResourceActive, CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, e.repos.Resources.Create(context.Background(), r))
	return r
}

func (e *env) token(t *testing.T, caller domain.Caller) string {
	t.Helper()
	token, _, err := e.tokens.Issue(caller.PrincipalID, caller.TenantCode)
	require.NoError(t, err)
	return token
}

func (e *env) reservations() *service.ReservationService {
	return service.NewReservationService(
		e.guard, e.repos.Resources, e.repos.Reservations,
		pricing.NewCalculator(7*24*time.Hour, 2), e.publisher, e.log, e.metrics,
	).WithClock(e.clock.Now)
}

func (e *env) queries() *service.QueryService {
	return service.NewQueryService(e.guard, e.repos.Resources, e.repos.Reservations, e.log)
}

// warnings возвращает WARN записи с указанным сообщением
func (e *env) warnings(msg string) []observer.LoggedEntry {
	return e.logs.FilterMessage(msg).FilterLevelExact(zapcore.WarnLevel).All()
}

func at(h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}
