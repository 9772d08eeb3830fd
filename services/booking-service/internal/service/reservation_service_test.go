package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/service"
)

type bookingFixture struct {
	*env
	owner    domain.Caller
	renter   domain.Caller
	neighbor domain.Caller
	slot     *domain.Resource
	svc      *service.ReservationService
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	e := newEnv(t)
	f := &bookingFixture{
		env:      e,
		owner:    e.seedPrincipal(t, tenantA, "owner@a.test", "A-1"),
		renter:   e.seedPrincipal(t, tenantA, "renter@a.test", "A-2"),
		neighbor: e.seedPrincipal(t, tenantA, "neighbor@a.test", "A-3"),
	}
	f.slot = e.seedResource(t, f.owner, "P-17", "50")
	f.svc = e.reservations()
	return f
}

func (f *bookingFixture) reserve(t *testing.T, caller domain.Caller, start, end time.Time) (*domain.Reservation, error) {
	t.Helper()
	return f.svc.Reserve(context.Background(), f.token(t, caller), service.ReserveRequest{
		TenantCode: caller.TenantCode,
		ResourceID: f.slot.ID,
		Start:      start,
		End:        end,
	})
}

func eventOfType(eventType events.Type) interface{} {
	return mock.MatchedBy(func(ev events.Event) bool { return ev.Type == eventType })
}

func TestReserve_OverlapAndAdjacency(t *testing.T) {
	f := newBookingFixture(t)

	first, err := f.reserve(t, f.renter, at(0), at(2))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(first.Price), first.Price.String())
	assert.Equal(t, domain.ReservationPending, first.Status)
	assert.Equal(t, tenantA, first.TenantCode)
	assert.Equal(t, f.renter.PrincipalID, first.RenterID)

	_, err = f.reserve(t, f.neighbor, at(1), at(3))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrSlotConflict))

	third, err := f.reserve(t, f.owner, at(2), at(4))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(third.Price))

	f.publisher.AssertNumberOfCalls(t, "Publish", 2)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.ReservationCreated))
}

func TestReserve_InvalidIntervalCreatesNothing(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	_, err := f.reserve(t, f.renter, at(2), at(2))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidInterval))

	_, err = f.reserve(t, f.renter, at(3), at(1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidInterval))

	_, err = f.reserve(t, f.renter, at(0), at(24*8))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDurationTooLong))

	rows, err := f.repos.Reservations.ListByResource(ctx, tenantA, f.slot.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReserve_CrossTenantResource(t *testing.T) {
	f := newBookingFixture(t)
	outsider := f.seedPrincipal(t, tenantB, "outsider@b.test", "B-1")

	_, err := f.svc.Reserve(context.Background(), f.token(t, outsider), service.ReserveRequest{
		TenantCode: tenantB,
		ResourceID: f.slot.ID,
		Start:      at(0),
		End:        at(1),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCrossTenantAccessDenied))

	entries := f.warnings("Cross-tenant access denied")
	require.Len(t, entries, 1)
	assert.Equal(t, outsider.PrincipalID, entries[0].ContextMap()["caller_principal_id"])

	rows, err := f.repos.Reservations.ListByResource(context.Background(), tenantA, f.slot.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReserve_PathTenantMustMatchCaller(t *testing.T) {
	f := newBookingFixture(t)

	_, err := f.svc.ReserveFor(context.Background(), f.renter, service.ReserveRequest{
		TenantCode: tenantB,
		ResourceID: f.slot.ID,
		Start:      at(0),
		End:        at(1),
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCrossTenantAccessDenied))
}

func TestReserve_UnavailableResource(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	_, err := f.svc.ReserveFor(ctx, f.renter, service.ReserveRequest{ResourceID: "missing", Start: at(0), End: at(1)})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrResourceUnavailable))

	_, err = f.repos.Resources.UpdateStatus(ctx, tenantA, f.slot.ID, domain.ResourceMaintenance)
	require.NoError(t, err)

	_, err = f.reserve(t, f.renter, at(0), at(1))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrResourceUnavailable))
}

func TestReserve_ClientPriceIgnored(t *testing.T) {
	f := newBookingFixture(t)
	cheap := decimal.NewFromInt(1)

	reservation, err := f.svc.ReserveFor(context.Background(), f.renter, service.ReserveRequest{
		TenantCode:  tenantA,
		ResourceID:  f.slot.ID,
		Start:       at(0),
		End:         at(0).Add(90 * time.Minute),
		ClientPrice: &cheap,
	})
	require.NoError(t, err)
	assert.Equal(t, "75", reservation.Price.String())
	assert.Equal(t, 1, f.logs.FilterMessage("Client supplied price ignored").Len())
}

func TestReserve_ConcurrentRequestsSingleWinner(t *testing.T) {
	f := newBookingFixture(t)
	const workers = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ReserveFor(context.Background(), f.renter, service.ReserveRequest{
				TenantCode: tenantA, ResourceID: f.slot.ID, Start: at(0), End: at(2),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case apperrors.HasCode(err, apperrors.ErrSlotConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, conflicts)
}

func TestReserve_PublishFailureKeepsReservation(t *testing.T) {
	f := newBookingFixture(t)
	failing := &MockPublisher{}
	failing.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f.publisher = failing
	f.svc = f.reservations()

	reservation, err := f.reserve(t, f.renter, at(0), at(1))
	require.NoError(t, err)

	stored, err := f.repos.Reservations.FindByTenantAndID(context.Background(), tenantA, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, stored.Status)
	assert.Equal(t, 1, f.logs.FilterMessage("Failed to publish event").Len())
}

func TestCancel(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	reservation, err := f.reserve(t, f.renter, at(0), at(2))
	require.NoError(t, err)

	_, err = f.svc.CancelFor(ctx, f.neighbor, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	cancelled, err := f.svc.Cancel(ctx, f.token(t, f.renter), reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, f.token(t, f.renter), reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotPending))

	// Отмена освобождает окно
	_, err = f.reserve(t, f.neighbor, at(0), at(2))
	assert.NoError(t, err)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.ReservationCancelled))
}

func TestCancel_OtherTenantSeesNotFound(t *testing.T) {
	f := newBookingFixture(t)
	outsider := f.seedPrincipal(t, tenantB, "outsider@b.test", "B-1")

	reservation, err := f.reserve(t, f.renter, at(0), at(2))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), f.token(t, outsider), reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotFound))
}

func TestConfirmAndNoShow(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	reservation, err := f.reserve(t, f.renter, at(1), at(3))
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.renter, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrForbidden))

	confirmed, err := f.svc.Confirm(ctx, f.owner, tenantA, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, confirmed.Status)

	_, err = f.svc.Confirm(ctx, f.owner, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotPending))

	_, err = f.svc.CancelFor(ctx, f.renter, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotPending))

	_, err = f.svc.MarkNoShow(ctx, f.owner, tenantA, reservation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict), "no-show before start")

	f.clock.Advance(90 * time.Minute)
	noShow, err := f.svc.MarkNoShow(ctx, f.owner, tenantA, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationNoShow, noShow.Status)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.ReservationConfirmed))
	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(events.ReservationNoShow))
}

func TestCompleteEnded(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	ended, err := f.reserve(t, f.renter, at(0), at(1))
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, f.owner, tenantA, ended.ID)
	require.NoError(t, err)

	pending, err := f.reserve(t, f.renter, at(1), at(2))
	require.NoError(t, err)

	f.clock.Advance(3 * time.Hour)
	n, err := f.svc.CompleteEnded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repos.Reservations.FindByTenantAndID(ctx, tenantA, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, got.Status)

	got, err = f.repos.Reservations.FindByTenantAndID(ctx, tenantA, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationPending, got.Status)

	n, err = f.svc.CompleteEnded(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
