package service

import (
	"context"
	"time"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/pkg/ratelimit"
	"CondoParkPlatform/pkg/validation"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/pkg/password"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// TokenIssuer выпускает сессионный токен
type TokenIssuer interface {
	Issue(principalID, tenantCode string) (string, time.Time, error)
}

// Результаты попытки входа для метрик и логов
const (
	loginSuccess           = "success"
	loginRateLimited       = "rate_limited"
	loginUnknownTenant     = "unknown_tenant"
	loginInactiveTenant    = "inactive_tenant"
	loginUnknownPrincipal  = "unknown_principal"
	loginInactivePrincipal = "inactive_principal"
	loginWrongPassword     = "wrong_password"
	loginMalformed         = "malformed"
	loginLimiterFailure    = "limiter_failure"
)

// Authenticator проверяет (код сообщества, email, пароль).
// Все причины отказа снаружи выглядят одинаково: InvalidCredentials.
type Authenticator struct {
	tenants    repository.TenantRepository
	principals repository.PrincipalRepository
	hasher     password.Hasher
	limiter    ratelimit.Limiter
	tokens     TokenIssuer
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// NewAuthenticator создает новый экземпляр Authenticator
func NewAuthenticator(
	tenants repository.TenantRepository,
	principals repository.PrincipalRepository,
	hasher password.Hasher,
	limiter ratelimit.Limiter,
	tokens TokenIssuer,
	log logger.Logger,
	m *metrics.Metrics,
) *Authenticator {
	return &Authenticator{
		tenants:    tenants,
		principals: principals,
		hasher:     hasher,
		limiter:    limiter,
		tokens:     tokens,
		logger:     log,
		metrics:    m,
	}
}

// LoginIdentifier ключ лимитера для попыток входа
func LoginIdentifier(email string) string {
	return "login:" + validation.NormalizeEmail(email)
}

// Authenticate проверяет учетные данные. Лимит проверяется до любого обращения к хранилищу,
// поиск идет только по паре (код сообщества, email).
func (a *Authenticator) Authenticate(ctx context.Context, tenantCode, email, pass string) (*domain.Principal, error) {
	email = validation.NormalizeEmail(email)

	result, err := a.limiter.Check(ctx, LoginIdentifier(email))
	if err != nil {
		a.logger.Error("Rate limiter unavailable, rejecting login", logger.Error(err), logger.CtxField(ctx))
		return nil, a.reject(ctx, pass, email, tenantCode, loginLimiterFailure)
	}
	if !result.Allowed {
		a.metrics.ObserveRateLimited("login")
		return nil, a.reject(ctx, pass, email, tenantCode, loginRateLimited)
	}

	if tenantCode == "" || email == "" || pass == "" {
		return nil, a.reject(ctx, pass, email, tenantCode, loginMalformed)
	}

	tenant, err := a.tenants.FindByCode(ctx, tenantCode)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrNotFound) {
			return nil, a.fail(ctx, err)
		}
		return nil, a.reject(ctx, pass, email, tenantCode, loginUnknownTenant)
	}
	if !tenant.IsActive() {
		return nil, a.reject(ctx, pass, email, tenantCode, loginInactiveTenant)
	}

	principal, err := a.principals.FindByTenantAndEmail(ctx, tenantCode, email)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrNotFound) {
			return nil, a.fail(ctx, err)
		}
		return nil, a.reject(ctx, pass, email, tenantCode, loginUnknownPrincipal)
	}
	if !principal.IsActive {
		return nil, a.reject(ctx, pass, email, tenantCode, loginInactivePrincipal)
	}

	if !a.hasher.Check(pass, principal.PasswordHash) {
		// Сравнение уже выполнено, второе не нужно
		return nil, a.rejectWithoutCompare(ctx, email, tenantCode, loginWrongPassword)
	}

	a.metrics.ObserveLogin(loginSuccess)
	a.logger.Info("Login succeeded",
		logger.String("principal_id", principal.ID),
		logger.CtxField(ctx),
	)
	return principal, nil
}

// Login обменивает учетные данные на подписанную сессию
func (a *Authenticator) Login(ctx context.Context, tenantCode, email, pass string) (*domain.Session, error) {
	principal, err := a.Authenticate(ctx, tenantCode, email, pass)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := a.tokens.Issue(principal.ID, principal.TenantCode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to issue session")
	}

	return &domain.Session{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		PrincipalID: principal.ID,
	}, nil
}

// reject выполняет одно фиктивное сравнение bcrypt, чтобы путь отказа стоил столько же, сколько успешный
func (a *Authenticator) reject(ctx context.Context, pass, email, tenantCode, reason string) error {
	a.hasher.CheckDummy(pass)
	return a.rejectWithoutCompare(ctx, email, tenantCode, reason)
}

func (a *Authenticator) rejectWithoutCompare(ctx context.Context, email, tenantCode, reason string) error {
	a.metrics.ObserveLogin(reason)

	fields := []logger.Field{
		logger.String("reason", reason),
		logger.Secret("email", email),
		logger.Secret("tenant", tenantCode),
		logger.CtxField(ctx),
	}
	if reason == loginRateLimited {
		a.logger.Warn("Login rejected", fields...)
	} else {
		a.logger.Info("Login rejected", fields...)
	}

	return apperrors.New(apperrors.ErrInvalidCredentials, "invalid credentials")
}

func (a *Authenticator) fail(ctx context.Context, err error) error {
	a.logger.Error("Login lookup failed", logger.Error(err), logger.CtxField(ctx))
	return persistence(err, "failed to authenticate")
}

// persistence оставляет типизированные ошибки как есть, остальные считает сбоем хранилища
func persistence(err error, message string) error {
	if err == nil {
		return nil
	}
	if apperrors.CodeOf(err) != apperrors.ErrInternal {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrPersistenceFailure, message)
}
