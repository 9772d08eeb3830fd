package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDependencyChecker_AllHealthy проверяет статус при доступных зависимостях
func TestDependencyChecker_AllHealthy(t *testing.T) {
	checker := NewDependencyChecker("v1.0.0", time.Second)
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())

	require.NotNil(t, status)
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "v1.0.0", status.Version)
	assert.False(t, status.Timestamp.IsZero())
	assert.Len(t, status.Services, 2)
	assert.Equal(t, []string{"postgres", "redis"}, checker.Names())
}

func TestDependencyChecker_OneUnhealthy(t *testing.T) {
	checker := NewDependencyChecker("v1.0.0", time.Second)
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	status := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Services["redis"].Status)
	assert.Equal(t, "connection refused", status.Services["redis"].Details)
	assert.Equal(t, StatusHealthy, status.Services["postgres"].Status)
}

func TestDependencyChecker_Timeout(t *testing.T) {
	checker := NewDependencyChecker("v1.0.0", 20*time.Millisecond)
	checker.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
}

// TestHandler проверяет HTTP обработчик
func TestHandler(t *testing.T) {
	checker := NewDependencyChecker("v1.0.0", time.Second)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	Handler(checker)(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, StatusHealthy, response.Status)
}

// TestReadyHandler проверяет 503 при недоступной зависимости
func TestReadyHandler(t *testing.T) {
	checker := NewDependencyChecker("v1.0.0", time.Second)
	checker.Register("postgres", func(ctx context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	ReadyHandler(checker)(w, httptest.NewRequest("GET", "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestLiveHandler проверяет live check
func TestLiveHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LiveHandler()(w, httptest.NewRequest("GET", "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}
