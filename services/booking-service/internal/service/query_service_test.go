package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

func TestQuery_ResourcesAreTenantScoped(t *testing.T) {
	f := newBookingFixture(t)
	outsider := f.seedPrincipal(t, tenantB, "outsider@b.test", "B-1")
	f.seedResource(t, outsider, "B-P1", "10")
	q := f.queries()
	ctx := context.Background()

	resources, err := q.ListResources(ctx, f.renter, tenantA)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, f.slot.ID, resources[0].ID)

	_, err = q.ListResources(ctx, f.renter, tenantB)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCrossTenantAccessDenied))

	_, err = q.GetResource(ctx, outsider, tenantB, f.slot.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestQuery_CreateResource(t *testing.T) {
	f := newBookingFixture(t)
	q := f.queries()
	ctx := context.Background()

	created, err := q.CreateResource(ctx, f.neighbor, tenantA, "  P-22 ", decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	assert.Equal(t, "P-22", created.Label)
	assert.Equal(t, f.neighbor.PrincipalID, created.OwnerID)
	assert.Equal(t, tenantA, created.TenantCode)
	assert.Equal(t, domain.ResourceActive, created.Status)

	_, err = q.CreateResource(ctx, f.neighbor, tenantA, "", decimal.NewFromInt(1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = q.CreateResource(ctx, f.neighbor, tenantA, "P-23", decimal.NewFromInt(-1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	_, err = q.CreateResource(ctx, f.neighbor, tenantB, "P-24", decimal.NewFromInt(1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCrossTenantAccessDenied))
}

func TestQuery_SetResourceStatusOwnerOnly(t *testing.T) {
	f := newBookingFixture(t)
	q := f.queries()
	ctx := context.Background()

	_, err := q.SetResourceStatus(ctx, f.renter, tenantA, f.slot.ID, domain.ResourceDisabled)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	_, err = q.SetResourceStatus(ctx, f.owner, tenantA, f.slot.ID, domain.ResourceStatus("broken"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrValidation))

	updated, err := q.SetResourceStatus(ctx, f.owner, tenantA, f.slot.ID, domain.ResourceMaintenance)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceMaintenance, updated.Status)
}

func TestQuery_ScheduleHidesRenterFromNonOwners(t *testing.T) {
	f := newBookingFixture(t)
	q := f.queries()
	ctx := context.Background()

	kept, err := f.reserve(t, f.renter, at(0), at(1))
	require.NoError(t, err)
	dropped, err := f.reserve(t, f.renter, at(2), at(3))
	require.NoError(t, err)
	_, err = f.svc.CancelFor(ctx, f.renter, tenantA, dropped.ID)
	require.NoError(t, err)

	schedule, err := q.ListResourceReservations(ctx, f.neighbor, tenantA, f.slot.ID)
	require.NoError(t, err)
	require.Len(t, schedule.Slots, 1)
	assert.Equal(t, kept.Start, schedule.Slots[0].Start)
	assert.Nil(t, schedule.Reservations)

	schedule, err = q.ListResourceReservations(ctx, f.owner, tenantA, f.slot.ID)
	require.NoError(t, err)
	assert.Len(t, schedule.Slots, 1)
	assert.Len(t, schedule.Reservations, 2)
}

func TestQuery_ReservationVisibility(t *testing.T) {
	f := newBookingFixture(t)
	q := f.queries()
	ctx := context.Background()

	reservation, err := f.reserve(t, f.renter, at(0), at(1))
	require.NoError(t, err)

	mine, err := q.ListMyReservations(ctx, f.renter, tenantA)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, reservation.ID, mine[0].ID)

	others, err := q.ListMyReservations(ctx, f.neighbor, tenantA)
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = q.GetReservation(ctx, f.renter, tenantA, reservation.ID)
	assert.NoError(t, err)
	_, err = q.GetReservation(ctx, f.owner, tenantA, reservation.ID)
	assert.NoError(t, err)
	_, err = q.GetReservation(ctx, f.neighbor, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))
}
