package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/pricing"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// ReserveRequest запрос на бронирование. TenantCode берется из пути запроса и может быть пустым.
// ClientPrice никогда не используется: цена всегда пересчитывается на сервере.
type ReserveRequest struct {
	TenantCode  string
	ResourceID  string
	Start       time.Time
	End         time.Time
	ClientPrice *decimal.Decimal
}

// ReservationService движок бронирования
type ReservationService struct {
	guard        *Guard
	resources    repository.ResourceRepository
	reservations repository.ReservationRepository
	calculator   *pricing.Calculator
	publisher    events.Publisher
	logger       logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewReservationService создает новый экземпляр ReservationService
func NewReservationService(
	guard *Guard,
	resources repository.ResourceRepository,
	reservations repository.ReservationRepository,
	calculator *pricing.Calculator,
	publisher events.Publisher,
	log logger.Logger,
	m *metrics.Metrics,
) *ReservationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &ReservationService{
		guard:        guard,
		resources:    resources,
		reservations: reservations,
		calculator:   calculator,
		publisher:    publisher,
		logger:       log,
		metrics:      m,
		now:          time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (s *ReservationService) WithClock(now func() time.Time) *ReservationService {
	s.now = now
	return s
}

// Reserve разрешает токен и бронирует место от имени его владельца
func (s *ReservationService) Reserve(ctx context.Context, token string, req ReserveRequest) (*domain.Reservation, error) {
	caller, err := s.guard.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.ReserveFor(ctx, caller, req)
}

// ReserveFor бронирует место для уже определенного вызывающего
func (s *ReservationService) ReserveFor(ctx context.Context, caller domain.Caller, req ReserveRequest) (*domain.Reservation, error) {
	started := time.Now()

	reservation, err := s.reserve(ctx, caller, req)
	s.metrics.ObserveReservation(outcome(err), time.Since(started))
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ReservationCreated, reservation)
	s.logger.Info("Reservation created",
		logger.String("reservation_id", reservation.ID),
		logger.String("resource_id", reservation.ResourceID),
		logger.String("renter_id", reservation.RenterID),
		logger.String("price", reservation.Price.String()),
		logger.CtxField(ctx),
	)
	return reservation, nil
}

func (s *ReservationService) reserve(ctx context.Context, caller domain.Caller, req ReserveRequest) (*domain.Reservation, error) {
	if req.TenantCode != "" {
		if err := s.guard.AuthorizeTenant(ctx, req.TenantCode, caller); err != nil {
			return nil, err
		}
	}

	resource, err := s.resources.FindByID(ctx, req.ResourceID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrNotFound) {
			return nil, apperrors.New(apperrors.ErrResourceUnavailable, "resource not found")
		}
		return nil, persistence(err, "failed to load resource")
	}

	if err := s.guard.AuthorizeTenant(ctx, resource.TenantCode, caller); err != nil {
		return nil, err
	}

	if resource.Status != domain.ResourceActive {
		return nil, apperrors.New(apperrors.ErrResourceUnavailable, "resource is not active").
			WithDetails(string(resource.Status))
	}

	price, err := s.calculator.Price(resource.RatePerHour, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	if req.ClientPrice != nil && !req.ClientPrice.Equal(price) {
		s.logger.Debug("Client supplied price ignored",
			logger.String("client_price", req.ClientPrice.String()),
			logger.String("price", price.String()),
			logger.CtxField(ctx),
		)
	}

	now := s.now().UTC()
	reservation := &domain.Reservation{
		ID:         uuid.NewString(),
		ResourceID: resource.ID,
		RenterID:   caller.PrincipalID,
		TenantCode: caller.TenantCode,
		Start:      req.Start.UTC(),
		End:        req.End.UTC(),
		Price:      price,
		Status:     domain.ReservationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.reservations.CreateIfNoOverlap(ctx, reservation); err != nil {
		if apperrors.HasCode(err, apperrors.ErrPersistenceFailure) || apperrors.CodeOf(err) == apperrors.ErrInternal {
			s.logger.Error("Failed to store reservation",
				logger.String("resource_id", resource.ID),
				logger.Error(err),
				logger.CtxField(ctx),
			)
		}
		return nil, persistence(err, "failed to store reservation")
	}

	return reservation, nil
}

// Cancel отменяет бронирование по токену
func (s *ReservationService) Cancel(ctx context.Context, token, reservationID string) (*domain.Reservation, error) {
	caller, err := s.guard.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.CancelFor(ctx, caller, caller.TenantCode, reservationID)
}

// CancelFor отменяет бронирование. Только арендатор и только пока оно ожидает подтверждения.
func (s *ReservationService) CancelFor(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	reservation, err := s.load(ctx, caller, tenantCode, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.RenterID != caller.PrincipalID {
		return nil, apperrors.New(apperrors.ErrForbidden, "only the renter can cancel")
	}

	return s.transition(ctx, caller, reservation, domain.ReservationPending, domain.ReservationCancelled, events.ReservationCancelled)
}

// Confirm подтверждает бронирование. Только владелец места.
func (s *ReservationService) Confirm(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	reservation, err := s.loadAsOwner(ctx, caller, tenantCode, reservationID)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, caller, reservation, domain.ReservationPending, domain.ReservationConfirmed, events.ReservationConfirmed)
}

// MarkNoShow отмечает неявку арендатора. Только владелец места и только после начала бронирования.
func (s *ReservationService) MarkNoShow(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	reservation, err := s.loadAsOwner(ctx, caller, tenantCode, reservationID)
	if err != nil {
		return nil, err
	}
	if s.now().Before(reservation.Start) {
		return nil, apperrors.New(apperrors.ErrConflict, "reservation has not started yet")
	}

	return s.transition(ctx, caller, reservation, domain.ReservationConfirmed, domain.ReservationNoShow, events.ReservationNoShow)
}

// CompleteEnded завершает подтвержденные бронирования, время которых истекло
func (s *ReservationService) CompleteEnded(ctx context.Context) (int, error) {
	completed, err := s.reservations.CompleteEnded(ctx, s.now().UTC())
	if err != nil {
		return 0, persistence(err, "failed to complete reservations")
	}

	for _, reservation := range completed {
		s.publish(ctx, events.ReservationCompleted, reservation)
	}
	s.metrics.ObserveTransition(string(domain.ReservationCompleted), len(completed))
	s.metrics.ObserveSweeperCompleted(len(completed))
	return len(completed), nil
}

func (s *ReservationService) load(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	reservation, err := s.reservations.FindByTenantAndID(ctx, caller.TenantCode, reservationID)
	if err != nil {
		return nil, persistence(err, "failed to load reservation")
	}
	return reservation, nil
}

func (s *ReservationService) loadAsOwner(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	reservation, err := s.load(ctx, caller, tenantCode, reservationID)
	if err != nil {
		return nil, err
	}

	resource, err := s.resources.FindByTenantAndID(ctx, caller.TenantCode, reservation.ResourceID)
	if err != nil {
		return nil, persistence(err, "failed to load resource")
	}
	if resource.OwnerID != caller.PrincipalID {
		return nil, apperrors.New(apperrors.ErrForbidden, "only the resource owner can do this")
	}
	return reservation, nil
}

// transition проверяет допустимость перехода и выполняет его через compare-and-set в хранилище.
// Проигравший гонку получает NotPending (для переходов из pending) или Conflict.
func (s *ReservationService) transition(
	ctx context.Context,
	caller domain.Caller,
	reservation *domain.Reservation,
	from, to domain.ReservationStatus,
	eventType events.Type,
) (*domain.Reservation, error) {
	lost := apperrors.ErrConflict
	if from == domain.ReservationPending {
		lost = apperrors.ErrNotPending
	}

	if reservation.Status != from || !from.CanTransitionTo(to) {
		return nil, apperrors.New(lost, "reservation is "+string(reservation.Status))
	}

	updated, err := s.reservations.Transition(ctx, caller.TenantCode, reservation.ID, from, to)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrConflict) {
			return nil, apperrors.Wrap(err, lost, "reservation changed concurrently")
		}
		return nil, persistence(err, "failed to update reservation")
	}

	s.metrics.ObserveTransition(string(to), 1)
	s.publish(ctx, eventType, updated)
	s.logger.Info("Reservation status changed",
		logger.String("reservation_id", updated.ID),
		logger.String("from", string(from)),
		logger.String("to", string(to)),
		logger.String("principal_id", caller.PrincipalID),
		logger.CtxField(ctx),
	)
	return updated, nil
}

// publish отправляет событие. Ошибка публикации не отменяет зафиксированную транзакцию.
func (s *ReservationService) publish(ctx context.Context, eventType events.Type, reservation *domain.Reservation) {
	event := events.New(eventType, reservation.TenantCode, s.now())
	event.ReservationID = reservation.ID
	event.ResourceID = reservation.ResourceID
	event.PrincipalID = reservation.RenterID

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			logger.String("type", string(eventType)),
			logger.String("reservation_id", reservation.ID),
			logger.Error(err),
			logger.CtxField(ctx),
		)
	}
}

// outcome метка исхода бронирования для метрик
func outcome(err error) string {
	if err == nil {
		return "created"
	}
	switch code := apperrors.CodeOf(err); code {
	case apperrors.ErrSlotConflict:
		return "slot_conflict"
	case apperrors.ErrResourceUnavailable:
		return "unavailable"
	case apperrors.ErrInvalidInterval, apperrors.ErrDurationTooLong:
		return "invalid"
	case apperrors.ErrCrossTenantAccessDenied:
		return "denied"
	case apperrors.ErrTryAgain:
		return "try_again"
	default:
		return "error"
	}
}
