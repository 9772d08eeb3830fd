package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/ratelimit"
	"CondoParkPlatform/pkg/validation"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/pkg/password"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// SignupRequest данные регистрации жителя
type SignupRequest struct {
	TenantCode string
	Email      string
	Password   string
	UnitID     string
	ClientIP   string
}

// SignupResult итог регистрации. RateLimit заполнен всегда, даже при ошибке,
// чтобы граница могла выставить заголовки X-RateLimit-*.
type SignupResult struct {
	Principal *domain.Principal
	Session   *domain.Session
	RateLimit ratelimit.Result
}

// signupConflictMessage единый ответ на любой конфликт при регистрации
const signupConflictMessage = "signup could not be completed with these details"

// SignupService регистрирует жителей в существующих сообществах
type SignupService struct {
	tenants    repository.TenantRepository
	principals repository.PrincipalRepository
	hasher     password.Hasher
	limiter    ratelimit.Limiter
	tokens     TokenIssuer
	validator  *validation.Validator
	logger     logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewSignupService создает новый экземпляр SignupService
func NewSignupService(
	tenants repository.TenantRepository,
	principals repository.PrincipalRepository,
	hasher password.Hasher,
	limiter ratelimit.Limiter,
	tokens TokenIssuer,
	log logger.Logger,
	m *metrics.Metrics,
) *SignupService {
	return &SignupService{
		tenants:    tenants,
		principals: principals,
		hasher:     hasher,
		limiter:    limiter,
		tokens:     tokens,
		validator:  validation.NewValidator(),
		logger:     log,
		metrics:    m,
		now:        time.Now,
	}
}

// SignupIdentifier ключ лимитера регистрации (отдельная область от входа)
func SignupIdentifier(clientIP string) string {
	return "signup:" + clientIP
}

// Signup проверяет лимит, данные и код сообщества, создает жителя и выдает сессию
func (s *SignupService) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	result := &SignupResult{}

	limit, err := s.limiter.Check(ctx, SignupIdentifier(req.ClientIP))
	if err != nil {
		s.logger.Error("Rate limiter unavailable, rejecting signup", logger.Error(err), logger.CtxField(ctx))
		return result, apperrors.Wrap(err, apperrors.ErrTryAgain, "rate limiter unavailable")
	}
	result.RateLimit = limit
	if !limit.Allowed {
		s.metrics.ObserveRateLimited("signup")
		s.metrics.ObserveSignup("rate_limited")
		s.logger.Warn("Signup rate limited",
			logger.String("client_ip", req.ClientIP),
			logger.CtxField(ctx),
		)
		return result, apperrors.New(apperrors.ErrRateLimited, "too many signup attempts")
	}

	email := validation.NormalizeEmail(req.Email)
	if err := s.validate(email, req); err != nil {
		s.metrics.ObserveSignup("invalid")
		return result, err
	}

	tenant, err := s.tenants.FindByCode(ctx, req.TenantCode)
	if err != nil || !tenant.IsActive() {
		if err != nil && !apperrors.HasCode(err, apperrors.ErrNotFound) {
			return result, persistence(err, "failed to look up tenant")
		}
		s.metrics.ObserveSignup("unknown_code")
		s.logger.Info("Signup with unknown tenant code",
			logger.Secret("tenant", req.TenantCode),
			logger.String("client_ip", req.ClientIP),
			logger.CtxField(ctx),
		)
		return result, apperrors.New(apperrors.ErrUnknownCode, "unknown tenant code")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return result, apperrors.Wrap(err, apperrors.ErrInternal, "failed to hash password")
	}

	now := s.now().UTC()
	principal := &domain.Principal{
		ID:           uuid.NewString(),
		TenantCode:   tenant.Code,
		Email:        email,
		UnitID:       req.UnitID,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.principals.Create(ctx, principal); err != nil {
		if apperrors.HasCode(err, apperrors.ErrConflict) {
			// Занятый email и занятая квартира неотличимы для клиента
			s.metrics.ObserveSignup("conflict")
			s.logger.Info("Signup rejected", logger.Error(err), logger.CtxField(ctx))
			return result, apperrors.New(apperrors.ErrConflict, signupConflictMessage)
		}
		s.logger.Error("Failed to create principal", logger.Error(err), logger.CtxField(ctx))
		return result, persistence(err, "failed to create principal")
	}

	token, expiresAt, err := s.tokens.Issue(principal.ID, principal.TenantCode)
	if err != nil {
		return result, apperrors.Wrap(err, apperrors.ErrInternal, "failed to issue session")
	}

	s.metrics.ObserveSignup("success")
	s.logger.Info("Principal signed up",
		logger.String("principal_id", principal.ID),
		logger.Secret("tenant", principal.TenantCode),
		logger.CtxField(ctx),
	)

	result.Principal = principal
	result.Session = &domain.Session{AccessToken: token, ExpiresAt: expiresAt, PrincipalID: principal.ID}
	return result, nil
}

func (s *SignupService) validate(email string, req SignupRequest) error {
	if err := s.validator.ValidateEmail(email); err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid email")
	}
	if !s.hasher.Validate(req.Password) {
		return apperrors.New(apperrors.ErrValidation, "password does not meet complexity requirements")
	}
	if err := s.validator.ValidateStringLength(req.UnitID, "unit_id", 1, 32); err != nil {
		return apperrors.Wrap(err, apperrors.ErrValidation, "invalid unit")
	}
	if req.TenantCode == "" {
		return apperrors.New(apperrors.ErrValidation, "tenant code is required")
	}
	return nil
}
