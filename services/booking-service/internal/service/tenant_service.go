package service

import (
	"context"
	"strings"
	"time"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// TenantService операции оператора над сообществами
type TenantService struct {
	tenants   repository.TenantRepository
	generator CodeGenerator
	logger    logger.Logger
	now       func() time.Time
}

// NewTenantService создает новый экземпляр TenantService
func NewTenantService(tenants repository.TenantRepository, generator CodeGenerator, log logger.Logger) *TenantService {
	return &TenantService{
		tenants:   tenants,
		generator: generator,
		logger:    log,
		now:       time.Now,
	}
}

// CreateTenant создает сообщество с новым случайным кодом
func (s *TenantService) CreateTenant(ctx context.Context, name string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant name is required")
	}

	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := s.generator.Generate()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate tenant code")
		}

		now := s.now().UTC()
		tenant := &domain.Tenant{
			Code:      code,
			Name:      name,
			Status:    domain.TenantActive,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = s.tenants.Create(ctx, tenant)
		if err == nil {
			s.logger.Info("Tenant created",
				logger.String("name", name),
				logger.Secret("tenant", code),
				logger.CtxField(ctx),
			)
			return tenant, nil
		}
		if !apperrors.HasCode(err, apperrors.ErrCodeAlreadyInUse) {
			return nil, persistence(err, "failed to create tenant")
		}
	}

	return nil, apperrors.New(apperrors.ErrInternal, "failed to generate an unused tenant code")
}
