package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

// CallerResolver превращает токен в вызывающего
type CallerResolver interface {
	Resolve(ctx context.Context, token string) (domain.Caller, error)
}

type callerKey struct{}

// RequireCaller проверяет Bearer токен и кладет вызывающего в контекст запроса.
// Обработчики достают его через CallerFrom и дальше передают явно.
func RequireCaller(resolver CallerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				apperrors.WriteJSON(w, apperrors.New(apperrors.ErrUnauthenticated, "missing bearer token"))
				return
			}

			caller, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				apperrors.WriteJSON(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

// CallerFrom возвращает вызывающего, положенного RequireCaller
func CallerFrom(ctx context.Context) (domain.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(domain.Caller)
	return caller, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
