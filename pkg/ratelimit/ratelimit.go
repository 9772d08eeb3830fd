package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result описывает исход проверки лимита
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt момент окончания текущего окна
	ResetAt time.Time
}

// Limiter ограничивает число попыток на идентификатор в фиксированном окне.
// Каждая попытка засчитывается, в том числе отклоненная.
type Limiter interface {
	Check(ctx context.Context, identifier string) (Result, error)
}

// Option настраивает MemoryLimiter
type Option func(*MemoryLimiter)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

type bucket struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter хранит счетчики в памяти процесса.
// Не разделяется между инстансами сервиса, для нескольких реплик нужен RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

// NewMemoryLimiter создает лимитер с фиксированным окном
func NewMemoryLimiter(limit int, window time.Duration, opts ...Option) *MemoryLimiter {
	l := &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check атомарно увеличивает счетчик и сравнивает его с лимитом
func (l *MemoryLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identifier]
	if !ok || !now.Before(b.windowStart.Add(l.window)) {
		b = &bucket{windowStart: now}
		l.buckets[identifier] = b
	}
	b.count++

	return newResult(b.count, l.limit, b.windowStart.Add(l.window)), nil
}

// Purge удаляет истекшие окна и возвращает число удаленных записей
func (l *MemoryLimiter) Purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if !now.Before(b.windowStart.Add(l.window)) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// Len возвращает число активных окон
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func newResult(count, limit int, resetAt time.Time) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
