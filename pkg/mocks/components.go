package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"CondoParkPlatform/pkg/health"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/ratelimit"
)

// MockLimiter имитирует pkg/ratelimit.Limiter
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Check(ctx context.Context, identifier string) (ratelimit.Result, error) {
	args := m.Called(ctx, identifier)
	return args.Get(0).(ratelimit.Result), args.Error(1)
}

// MockLogger имитирует pkg/logger.Logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Info(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Warn(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) Error(msg string, fields ...logger.Field) {
	m.Called(msg, fields)
}

func (m *MockLogger) With(fields ...logger.Field) logger.Logger {
	args := m.Called(fields)
	return args.Get(0).(logger.Logger)
}

func (m *MockLogger) Sync() error {
	args := m.Called()
	return args.Error(0)
}

// MockHealthChecker имитирует pkg/health.HealthChecker
type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) Check(ctx context.Context) *health.HealthStatus {
	args := m.Called(ctx)
	return args.Get(0).(*health.HealthStatus)
}
