package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/metrics"
	"CondoParkPlatform/services/booking-service/internal/domain"
	"CondoParkPlatform/services/booking-service/internal/pkg/jwt"
	"CondoParkPlatform/services/booking-service/internal/repository"
)

// TokenValidator проверяет подписанный сессионный токен
type TokenValidator interface {
	Validate(token string) (*jwt.SessionClaims, error)
}

// Guard определяет сообщество вызывающего и запрещает доступ к чужим сообществам.
// Resolve работает только в памяти процесса: проверка подписи и локальный список отозванных кодов.
type Guard struct {
	tokens      TokenValidator
	revocations repository.RevocationRepository
	logger      logger.Logger
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewGuard создает Guard. revocations может быть nil, тогда учитываются только локальные отзывы.
func NewGuard(tokens TokenValidator, revocations repository.RevocationRepository, log logger.Logger, m *metrics.Metrics) *Guard {
	return &Guard{
		tokens:      tokens,
		revocations: revocations,
		logger:      log,
		metrics:     m,
		revoked:     make(map[string]struct{}),
	}
}

// Resolve превращает токен в (principalID, tenantCode).
// Отсутствующий, испорченный, просроченный или отозванный токен дает Unauthenticated,
// токен без сообщества дает NoTenantAssigned. Сообщества по умолчанию нет.
func (g *Guard) Resolve(ctx context.Context, token string) (domain.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Caller{}, apperrors.New(apperrors.ErrUnauthenticated, "missing token")
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		g.logger.Debug("Token rejected", logger.Error(err), logger.CtxField(ctx))
		return domain.Caller{}, apperrors.Wrap(err, apperrors.ErrUnauthenticated, "invalid token")
	}

	if claims.TenantCode == "" || claims.PrincipalID == "" || claims.Subject != claims.PrincipalID {
		g.logger.Warn("Token without tenant assignment",
			logger.String("principal_id", claims.PrincipalID),
			logger.CtxField(ctx),
		)
		return domain.Caller{}, apperrors.New(apperrors.ErrNoTenantAssigned, "token has no tenant")
	}

	if g.IsRevoked(claims.TenantCode) {
		g.logger.Info("Token for rotated tenant code rejected",
			logger.String("principal_id", claims.PrincipalID),
			logger.Secret("tenant", claims.TenantCode),
			logger.CtxField(ctx),
		)
		return domain.Caller{}, apperrors.New(apperrors.ErrUnauthenticated, "tenant code was rotated")
	}

	return domain.Caller{PrincipalID: claims.PrincipalID, TenantCode: claims.TenantCode}, nil
}

// AuthorizeTenant сравнивает запрошенное сообщество с сообществом вызывающего.
// Каждый отказ пишется в WARN: это основной сигнал попытки нарушить изоляцию.
func (g *Guard) AuthorizeTenant(ctx context.Context, requestedTenant string, caller domain.Caller) error {
	if caller.TenantCode != "" && requestedTenant != "" &&
		subtle.ConstantTimeCompare([]byte(requestedTenant), []byte(caller.TenantCode)) == 1 {
		return nil
	}

	g.metrics.ObserveCrossTenantDenied()
	g.logger.Warn("Cross-tenant access denied",
		logger.String("caller_principal_id", caller.PrincipalID),
		logger.Secret("caller_tenant", caller.TenantCode),
		logger.Secret("requested_tenant", requestedTenant),
		logger.CtxField(ctx),
	)
	return apperrors.New(apperrors.ErrCrossTenantAccessDenied, "cross-tenant access denied")
}

// Revoke сразу отзывает код в этом процессе
func (g *Guard) Revoke(code string) {
	g.mu.Lock()
	g.revoked[code] = struct{}{}
	n := len(g.revoked)
	g.mu.Unlock()

	g.metrics.SetRevokedTenants(n)
}

// IsRevoked проверяет локальный список отозванных кодов
func (g *Guard) IsRevoked(code string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.revoked[code]
	return ok
}

// Sync заменяет локальный список отозванных кодов содержимым хранилища
func (g *Guard) Sync(ctx context.Context) error {
	if g.revocations == nil {
		return nil
	}

	codes, err := g.revocations.List(ctx)
	if err != nil {
		return err
	}

	revoked := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		revoked[code] = struct{}{}
	}

	g.mu.Lock()
	g.revoked = revoked
	g.mu.Unlock()

	g.metrics.SetRevokedTenants(len(revoked))
	return nil
}
