package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/validation"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/events"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// maxGenerateAttempts число попыток сгенерировать свободный код
const maxGenerateAttempts = 5

// CodeGenerator выпускает новые коды сообществ
type CodeGenerator interface {
	Generate() (string, error)
}

// RotateRequest параметры ротации
type RotateRequest struct {
	OldCode  string
	NewCode  string
	DryRun   bool
	Operator string
}

// RotationService заменяет секретный код сообщества
type RotationService struct {
	tenants       repository.TenantRepository
	rotation      repository.RotationRepository
	revocations   repository.RevocationRepository
	generator     CodeGenerator
	guard         *Guard
	publisher     events.Publisher
	validator     *validation.Validator
	logger        logger.Logger
	metrics       *metrics.Metrics
	revocationTTL time.Duration
	now           func() time.Time
}

// NewRotationService создает новый экземпляр RotationService.
// revocationTTL должен быть не меньше времени жизни токена доступа.
// revocations используется только для проверки занятости нового кода.
func NewRotationService(
	tenants repository.TenantRepository,
	rotation repository.RotationRepository,
	revocations repository.RevocationRepository,
	generator CodeGenerator,
	guard *Guard,
	publisher events.Publisher,
	revocationTTL time.Duration,
	log logger.Logger,
	m *metrics.Metrics,
) *RotationService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &RotationService{
		tenants:       tenants,
		rotation:      rotation,
		revocations:   revocations,
		generator:     generator,
		guard:         guard,
		publisher:     publisher,
		validator:     validation.NewValidator(),
		logger:        log,
		metrics:       m,
		revocationTTL: revocationTTL,
		now:           time.Now,
	}
}

// Rotate выполняет предварительные проверки вне транзакции, затем заменяет код
// во всех таблицах одной транзакцией. DryRun только считает строки.
func (s *RotationService) Rotate(ctx context.Context, req RotateRequest) (*domain.RotationReport, error) {
	report := &domain.RotationReport{
		OldCode:   req.OldCode,
		DryRun:    req.DryRun,
		Operator:  req.Operator,
		StartedAt: s.now().UTC(),
	}

	if err := s.precheck(ctx, req); err != nil {
		s.metrics.ObserveRotation("rejected")
		return nil, err
	}

	newCode := req.NewCode
	if newCode == "" {
		generated, err := s.generate(ctx)
		if err != nil {
			return nil, err
		}
		newCode = generated
	}
	report.NewCode = newCode
	report.RollbackSQL = RollbackSQL(newCode, req.OldCode)

	log := s.logger.With(
		logger.String("operator", req.Operator),
		logger.Secret("old_code", req.OldCode),
		logger.Secret("new_code", newCode),
		logger.Bool("dry_run", req.DryRun),
	)

	if req.DryRun {
		counts, err := s.rotation.CountByTenant(ctx, req.OldCode)
		if err != nil {
			return nil, persistence(err, "failed to count tenant rows")
		}
		report.Counts = counts
		report.FinishedAt = s.now().UTC()

		s.metrics.ObserveRotation("dry_run")
		log.Info("Tenant code rotation dry run", countFields(counts)...)
		return report, nil
	}

	// Старый код отзывается той же транзакцией
	counts, err := s.rotation.RotateTenantCode(ctx, req.OldCode, newCode, s.revocationTTL)
	if err != nil {
		s.metrics.ObserveRotation("failed")
		log.Error("Tenant code rotation failed", logger.Error(err))
		return nil, persistence(err, "failed to rotate tenant code")
	}
	report.Counts = counts
	report.FinishedAt = s.now().UTC()

	if s.guard != nil {
		s.guard.Revoke(req.OldCode)
	}

	event := events.New(events.TenantRotated, newCode, report.FinishedAt)
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("Failed to publish rotation event", logger.Error(err))
	}

	s.metrics.ObserveRotation("committed")
	log.Info("Tenant code rotated", countFields(counts)...)
	return report, nil
}

func (s *RotationService) precheck(ctx context.Context, req RotateRequest) error {
	if req.OldCode == "" {
		return apperrors.New(apperrors.ErrUnknownCode, "old code is required")
	}

	exists, err := s.tenants.Exists(ctx, req.OldCode)
	if err != nil {
		return persistence(err, "failed to check tenant")
	}
	if !exists {
		return apperrors.New(apperrors.ErrUnknownCode, "tenant code not found")
	}

	if req.NewCode == "" {
		return nil
	}
	if err := s.validator.ValidateTenantCode(req.NewCode); err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid new code")
	}

	inUse, err := s.codeInUse(ctx, req.NewCode)
	if err != nil {
		return err
	}
	if inUse || req.NewCode == req.OldCode {
		return apperrors.New(apperrors.ErrCodeAlreadyInUse, "tenant code already in use")
	}
	return nil
}

// codeInUse проверяет, занят ли код действующим сообществом или недавно отозван
func (s *RotationService) codeInUse(ctx context.Context, code string) (bool, error) {
	exists, err := s.tenants.Exists(ctx, code)
	if err != nil {
		return false, persistence(err, "failed to check tenant")
	}
	if exists {
		return true, nil
	}
	if s.revocations == nil {
		return false, nil
	}

	revoked, err := s.revocations.IsRevoked(ctx, code)
	if err != nil {
		return false, persistence(err, "failed to check revocation")
	}
	return revoked, nil
}

func (s *RotationService) generate(ctx context.Context) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := s.generator.Generate()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate tenant code")
		}

		inUse, err := s.codeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", apperrors.New(apperrors.ErrInternal, "failed to generate an unused tenant code")
}

// RollbackSQL возвращает скрипт, переименовывающий код from обратно в to.
// Зависимые строки следуют за ним через ON UPDATE CASCADE.
func RollbackSQL(from, to string) string {
	var b strings.Builder
	b.WriteString("-- Reverse tenant code rotation\n")
	b.WriteString("BEGIN;\n")
	fmt.Fprintf(&b, "UPDATE tenants SET code = %s, updated_at = now() WHERE code = %s;\n", quote(to), quote(from))
	fmt.Fprintf(&b, "SELECT count(*) AS remaining FROM principals WHERE tenant_code = %s;\n", quote(from))
	b.WriteString("COMMIT;\n")
	return b.String()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func countFields(c domain.TableCounts) []logger.Field {
	return []logger.Field{
		logger.Int64("tenants", c.Tenants),
		logger.Int64("principals", c.Principals),
		logger.Int64("resources", c.Resources),
		logger.Int64("reservations", c.Reservations),
	}
}
