package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// SessionClaims данные сессии в подписанном токене.
// Код сообщества фиксируется при выдаче и никогда не меняется.
type SessionClaims struct {
	PrincipalID string `json:"principal_id"`
	TenantCode  string `json:"tenant_code"`
	TokenType   string `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager выпускает и проверяет сессионные токены (HS256)
type Manager struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// Option настраивает Manager
type Option func(*Manager)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager создает новый экземпляр JWT менеджера
func NewManager(secretKey, issuer string, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL возвращает время жизни сессии
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue выпускает токен для участника сообщества
func (m *Manager) Issue(principalID, tenantCode string) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)

	claims := &SessionClaims{
		PrincipalID: principalID,
		TenantCode:  tenantCode,
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate проверяет подпись, срок действия, издателя и тип токена
func (m *Manager) Validate(token string) (*SessionClaims, error) {
	parsedToken, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || !parsedToken.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.TokenType != accessTokenType {
		return nil, fmt.Errorf("invalid token type: expected '%s', got '%s'", accessTokenType, claims.TokenType)
	}

	return claims, nil
}
