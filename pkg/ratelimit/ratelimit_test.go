package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiter_SixthAttemptDenied(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(5, 15*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := limiter.Check(ctx, "login:a@example.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := limiter.Check(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clock.Now().Add(15*time.Minute), res.ResetAt)
}

func TestMemoryLimiter_WindowReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(5, 15*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := limiter.Check(ctx, "signup:10.0.0.1")
		require.NoError(t, err)
	}

	clock.Advance(15*time.Minute - time.Second)
	res, err := limiter.Check(ctx, "signup:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(time.Second)
	res, err = limiter.Check(ctx, "signup:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestMemoryLimiter_IdentifiersAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	res, err := limiter.Check(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "login:b@example.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "login:a@example.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestMemoryLimiter_ConcurrentAttemptsCountedExactly(t *testing.T) {
	limiter := NewMemoryLimiter(5, time.Minute)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Check(ctx, "login:race@example.com")
			if err != nil {
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestMemoryLimiter_Purge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	limiter := NewMemoryLimiter(5, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Check(ctx, fmt.Sprintf("login:%d@example.com", i))
		require.NoError(t, err)
	}
	clock.Advance(30 * time.Second)
	_, err := limiter.Check(ctx, "login:late@example.com")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	assert.Equal(t, 3, limiter.Purge())
	assert.Equal(t, 1, limiter.Len())
}

func TestMemoryLimiter_CancelledContext(t *testing.T) {
	limiter := NewMemoryLimiter(5, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Check(ctx, "login:a@example.com")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, limiter.Len())
}
