package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"CondoParkPlatform/pkg/config"
	"CondoParkPlatform/pkg/logger"
	"CondoParkPlatform/pkg/ratelimit"
	"CondoParkPlatform/services/booking-service/internal/events"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) CompleteEnded(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Sync(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestNew_RegistersConfiguredJobs(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(5, time.Minute)
	s, err := New(config.Default().Sweeper, &MockCompleter{}, &MockSyncer{}, []Purger{limiter}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 3)

	cfg := config.Default().Sweeper
	cfg.BucketCleanup = ""
	s, err = New(cfg, &MockCompleter{}, nil, nil, logger.NewNopLogger())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := config.Default().Sweeper
	cfg.CompleteSchedule = "every minute"

	_, err := New(cfg, &MockCompleter{}, nil, nil, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := New(config.Default().Sweeper, &MockCompleter{}, nil, nil, logger.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)
	assert.True(t, s.isRunning)

	s.Stop(ctx)
	assert.False(t, s.isRunning)
}

func TestJobs(t *testing.T) {
	log, logs := logger.NewObservedLogger("debug")
	completer := &MockCompleter{}
	syncer := &MockSyncer{}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewMemoryLimiter(5, time.Minute, ratelimit.WithClock(func() time.Time { return now }))
	_, err := limiter.Check(context.Background(), "login:a@test")
	require.NoError(t, err)
	now = now.Add(time.Minute)

	s, err := New(config.Default().Sweeper, completer, syncer, []Purger{limiter}, log)
	require.NoError(t, err)
	ctx := context.Background()

	completer.On("CompleteEnded", ctx).Return(2, nil).Once()
	completer.On("CompleteEnded", ctx).Return(0, errors.New("db down")).Once()
	s.CompleteEnded(ctx)
	s.CompleteEnded(ctx)
	assert.Equal(t, 1, logs.FilterMessage("Ended reservations completed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to complete ended reservations").Len())

	syncer.On("Sync", ctx).Return(errors.New("redis down")).Once()
	s.SyncRevocations(ctx)
	assert.Equal(t, 1, logs.FilterMessage("Failed to sync revoked tenant codes").Len())

	s.PurgeBuckets(ctx)
	assert.Zero(t, limiter.Len())

	completer.AssertExpectations(t)
	syncer.AssertExpectations(t)
}

func TestRotationHandler(t *testing.T) {
	syncer := &MockSyncer{}
	handler := RotationHandler(syncer, logger.NewNopLogger())
	ctx := context.Background()

	rotated, err := json.Marshal(events.New(events.TenantRotated, "cp_new", time.Now()))
	require.NoError(t, err)
	other, err := json.Marshal(events.New(events.ReservationCreated, "cp_new", time.Now()))
	require.NoError(t, err)

	syncer.On("Sync", ctx).Return(nil).Once()
	assert.NoError(t, handler(ctx, amqp091.Delivery{Body: rotated}))
	assert.NoError(t, handler(ctx, amqp091.Delivery{Body: other}))
	assert.NoError(t, handler(ctx, amqp091.Delivery{Body: []byte("{broken")}))

	syncer.On("Sync", ctx).Return(errors.New("redis down")).Once()
	assert.Error(t, handler(ctx, amqp091.Delivery{Body: rotated}))

	syncer.AssertExpectations(t)
}
