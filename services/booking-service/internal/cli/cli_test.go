package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"CondoParkPlatform/pkg/config"
	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/validation"
	"CondoParkPlatform/services/booking-service/internal/app"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/repository"
	"CondoParkPlatform/services/booking-service/internal/repository/memory"
)

const legacyCode = "lmr_x7k9p2"

type fixture struct {
	repos *repository.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := memory.NewStore()
	require.NoError(t, err)
	f := &fixture{repos: store.Repositories()}

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.repos.Tenants.Create(ctx, &domain.Tenant{
		Code: legacyCode, Name: "Lakeside", Status: domain.TenantActive, CreatedAt: now, UpdatedAt: now,
	}))
	for _, unit := range []string{"A-1", "A-2"} {
		require.NoError(t, f.repos.Principals.Create(ctx, &domain.Principal{
			ID: uuid.NewString(), TenantCode: legacyCode, Email: unit + "@lakeside.test", UnitID: unit,
			PasswordHash: "hash", IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
	return f
}

func (f *fixture) opener(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Backend, error) {
	return &app.Backend{Store: f.repos, Revocations: f.repos.Revocations, Publisher: events.NopPublisher{}}, nil
}

func (f *fixture) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := NewRootCommand(f.opener)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRotate_DryRunChangesNothing(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "rotate", legacyCode, "--dry-run", "--operator", "ops-anna")
	require.NoError(t, err)

	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "ops-anna")
	assert.Contains(t, out, "Rollback SQL:")
	assert.Regexp(t, `principals:\s+2`, out)

	_, err = f.repos.Tenants.FindByCode(context.Background(), legacyCode)
	assert.NoError(t, err)
	revoked, err := f.repos.Revocations.IsRevoked(context.Background(), legacyCode)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRotate_CommitPrintsJSONReport(t *testing.T) {
	f := newFixture(t)
	newCode := "lmr_abcdefghijklmnopqrstuvwx"

	out, stderr, err := f.run(t, "rotate", legacyCode, newCode, "-o", "json", "--operator", "ops-anna")
	require.NoError(t, err)

	var report domain.RotationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.DryRun)
	assert.Equal(t, newCode, report.NewCode)
	assert.Equal(t, int64(3), report.Counts.Total())
	assert.Contains(t, report.RollbackSQL, "WHERE code = '"+newCode+"'")

	ctx := context.Background()
	_, err = f.repos.Tenants.FindByCode(ctx, legacyCode)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
	_, err = f.repos.Tenants.FindByCode(ctx, newCode)
	assert.NoError(t, err)

	revoked, err := f.repos.Revocations.IsRevoked(ctx, legacyCode)
	require.NoError(t, err)
	assert.True(t, revoked)

	// Аудит пишется в stderr и не содержит кодов в открытом виде
	assert.Contains(t, stderr, "Tenant code rotated")
	assert.NotContains(t, stderr, legacyCode)
	assert.NotContains(t, stderr, newCode)
}

func TestRotate_GeneratesCodeWhenOmitted(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "rotate", legacyCode, "-o", "yaml")
	require.NoError(t, err)

	var report struct {
		NewCode string `yaml:"new_code"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.NoError(t, validation.NewValidator().ValidateTenantCode(report.NewCode))
}

func TestRotate_Rejections(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "rotate", "cp_doesnotexist000000000000")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrUnknownCode))

	taken := "cp_takentakentakentakentaken"
	now := time.Now().UTC()
	require.NoError(t, f.repos.Tenants.Create(context.Background(), &domain.Tenant{
		Code: taken, Name: "Taken", Status: domain.TenantActive, CreatedAt: now, UpdatedAt: now,
	}))
	_, _, err = f.run(t, "rotate", legacyCode, taken)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyInUse))

	_, _, err = f.run(t, "rotate", legacyCode, "not-a-code")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, _, err = f.run(t, "rotate")
	assert.Error(t, err)

	_, _, err = f.run(t, "rotate", legacyCode, "--dry-run", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestTenantCreate(t *testing.T) {
	f := newFixture(t)

	out, _, err := f.run(t, "tenant", "create", "Harbor", "View", "-o", "json")
	require.NoError(t, err)

	var created createdTenant
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "Harbor View", created.Name)
	assert.Equal(t, string(domain.TenantActive), created.Status)
	assert.NoError(t, validation.NewValidator().ValidateTenantCode(created.Code))

	tenant, err := f.repos.Tenants.FindByCode(context.Background(), created.Code)
	require.NoError(t, err)
	assert.Equal(t, "Harbor View", tenant.Name)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.run(t, "migrate")
	assert.ErrorContains(t, err, "booking.store=postgres")
}
