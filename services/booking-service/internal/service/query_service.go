package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/validation"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// ResourceSchedule занятость места. Владелец видит бронирования целиком,
// остальные жители только окна занятости без данных арендатора.
type ResourceSchedule struct {
	Slots        []domain.Slot         `json:"slots"`
	Reservations []*domain.Reservation `json:"reservations,omitempty"`
}

// QueryService чтение и управление местами в пределах сообщества вызывающего.
// Каждый метод сначала вызывает AuthorizeTenant для кода из пути.
type QueryService struct {
	guard        *Guard
	resources    repository.ResourceRepository
	reservations repository.ReservationRepository
	validator    *validation.Validator
	logger       logger.Logger
	now          func() time.Time
}

// NewQueryService создает новый экземпляр QueryService
func NewQueryService(
	guard *Guard,
	resources repository.ResourceRepository,
	reservations repository.ReservationRepository,
	log logger.Logger,
) *QueryService {
	return &QueryService{
		guard:        guard,
		resources:    resources,
		reservations: reservations,
		validator:    validation.NewValidator(),
		logger:       log,
		now:          time.Now,
	}
}

// ListResources возвращает места сообщества
func (s *QueryService) ListResources(ctx context.Context, caller domain.Caller, tenantCode string) ([]*domain.Resource, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	resources, err := s.resources.ListByTenant(ctx, caller.TenantCode)
	if err != nil {
		return nil, persistence(err, "failed to list resources")
	}
	return resources, nil
}

// GetResource возвращает место сообщества
func (s *QueryService) GetResource(ctx context.Context, caller domain.Caller, tenantCode, resourceID string) (*domain.Resource, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	resource, err := s.resources.FindByTenantAndID(ctx, caller.TenantCode, resourceID)
	if err != nil {
		return nil, persistence(err, "failed to load resource")
	}
	return resource, nil
}

// CreateResource создает место, владельцем которого становится вызывающий
func (s *QueryService) CreateResource(ctx context.Context, caller domain.Caller, tenantCode, label string, rate decimal.Decimal) (*domain.Resource, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	label = strings.TrimSpace(label)
	if err := s.validator.ValidateStringLength(label, "label", 1, 64); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "invalid label")
	}
	if rate.IsNegative() {
		return nil, apperrors.New(apperrors.ErrValidation, "rate must not be negative")
	}

	now := s.now().UTC()
	resource := &domain.Resource{
		ID:          uuid.NewString(),
		TenantCode:  caller.TenantCode,
		OwnerID:     caller.PrincipalID,
		Label:       label,
		RatePerHour: rate,
		Status:      domain.ResourceActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.resources.Create(ctx, resource); err != nil {
		return nil, persistence(err, "failed to create resource")
	}

	s.logger.Info("Resource created",
		logger.String("resource_id", resource.ID),
		logger.String("owner_id", resource.OwnerID),
		logger.CtxField(ctx),
	)
	return resource, nil
}

// SetResourceStatus меняет статус места. Только владелец.
func (s *QueryService) SetResourceStatus(ctx context.Context, caller domain.Caller, tenantCode, resourceID string, status domain.ResourceStatus) (*domain.Resource, error) {
	resource, err := s.GetResource(ctx, caller, tenantCode, resourceID)
	if err != nil {
		return nil, err
	}
	if resource.OwnerID != caller.PrincipalID {
		return nil, apperrors.New(apperrors.ErrForbidden, "only the owner can change the status")
	}
	if err := s.validator.ValidateEnum(string(status), domain.ResourceStatuses, "status"); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "unknown resource status")
	}

	updated, err := s.resources.UpdateStatus(ctx, caller.TenantCode, resourceID, status)
	if err != nil {
		return nil, persistence(err, "failed to update resource")
	}
	return updated, nil
}

// ListResourceReservations возвращает занятость места
func (s *QueryService) ListResourceReservations(ctx context.Context, caller domain.Caller, tenantCode, resourceID string) (*ResourceSchedule, error) {
	resource, err := s.GetResource(ctx, caller, tenantCode, resourceID)
	if err != nil {
		return nil, err
	}

	reservations, err := s.reservations.ListByResource(ctx, caller.TenantCode, resource.ID)
	if err != nil {
		return nil, persistence(err, "failed to list reservations")
	}

	schedule := &ResourceSchedule{Slots: []domain.Slot{}}
	for _, r := range reservations {
		if r.Status.HoldsSlot() {
			schedule.Slots = append(schedule.Slots, domain.Slot{Start: r.Start, End: r.End, Status: r.Status})
		}
	}
	if resource.OwnerID == caller.PrincipalID {
		schedule.Reservations = reservations
	}
	return schedule, nil
}

// ListMyReservations возвращает бронирования вызывающего
func (s *QueryService) ListMyReservations(ctx context.Context, caller domain.Caller, tenantCode string) ([]*domain.Reservation, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	reservations, err := s.reservations.ListByRenter(ctx, caller.TenantCode, caller.PrincipalID)
	if err != nil {
		return nil, persistence(err, "failed to list reservations")
	}
	return reservations, nil
}

// GetReservation возвращает бронирование арендатору или владельцу места
func (s *QueryService) GetReservation(ctx context.Context, caller domain.Caller, tenantCode, reservationID string) (*domain.Reservation, error) {
	if err := s.guard.AuthorizeTenant(ctx, tenantCode, caller); err != nil {
		return nil, err
	}

	reservation, err := s.reservations.FindByTenantAndID(ctx, caller.TenantCode, reservationID)
	if err != nil {
		return nil, persistence(err, "failed to load reservation")
	}
	if reservation.RenterID == caller.PrincipalID {
		return reservation, nil
	}

	resource, err := s.resources.FindByTenantAndID(ctx, caller.TenantCode, reservation.ResourceID)
	if err != nil {
		return nil, persistence(err, "failed to load resource")
	}
	if resource.OwnerID != caller.PrincipalID {
		return nil, apperrors.New(apperrors.ErrForbidden, "not a party to this reservation")
	}
	return reservation, nil
}
