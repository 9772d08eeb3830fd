package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "CondoParkPlatform/pkg/errors"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/services/booking-service/internal/domain"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, token string) (domain.Caller, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.Caller), args.Error(1)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestThrottle_PerIP(t *testing.T) {
	throttle := NewThrottle(1, 2, false, logger.NewNopLogger(), nil)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	throttle.now = func() time.Time { return now }
	h := throttle.Middleware(okHandler)

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:1002"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:1000"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1003"))

	assert.Zero(t, throttle.Purge())
	now = now.Add(time.Hour)
	assert.Equal(t, 2, throttle.Purge())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ClientIP(req, false))
	assert.Equal(t, "203.0.113.9", ClientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", ClientIP(req, true))
}

func TestRequireCaller(t *testing.T) {
	caller := domain.Caller{PrincipalID: "p-1", TenantCode: "cp_tenant"}
	resolver := &MockResolver{}
	resolver.On("Resolve", mock.Anything, "good").Return(caller, nil)
	resolver.On("Resolve", mock.Anything, "bad").
		Return(domain.Caller{}, apperrors.New(apperrors.ErrUnauthenticated, "invalid token"))

	var seen domain.Caller
	h := RequireCaller(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		seen, ok = CallerFrom(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	cases := map[string]int{
		"Bearer good": http.StatusOK,
		"bearer good": http.StatusOK,
		"Bearer bad":  http.StatusUnauthorized,
		"Basic abc":   http.StatusUnauthorized,
		"":            http.StatusUnauthorized,
		"Bearer ":     http.StatusUnauthorized,
	}
	for header, status := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code, header)
	}
	assert.Equal(t, caller, seen)

	_, ok := CallerFrom(context.Background())
	assert.False(t, ok)
}

func TestLogging_UsesRoutePatternNotPath(t *testing.T) {
	log, logs := logger.NewObservedLogger("info")

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/tenants/{tenantCode}/resources", okHandler)
	h := Logging(log)(CaptureRoute(mux))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/cp_secretcode/resources", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "req-7", w.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "GET /api/v1/tenants/{tenantCode}/resources", fields["route"])
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status_code"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "cp_secretcode")
		}
	}
}

func TestRecovery(t *testing.T) {
	log, logs := logger.NewObservedLogger("error")
	h := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered in HTTP handler").Len())
}
