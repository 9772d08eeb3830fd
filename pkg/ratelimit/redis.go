package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrScript увеличивает счетчик, выставляет TTL окна на первой попытке
// и возвращает {count, ttl_ms}. Выполняется в Redis атомарно.
var incrScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// RedisLimiter реализация Limiter на Redis, общая для всех инстансов сервиса
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter создает новый экземпляр RedisLimiter
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "rate_limit:",
		now:    time.Now,
	}
}

// Check проверяет, не превышен ли лимит для заданного идентификатора.
// INCR и установка TTL выполняются одним скриптом, поэтому гонки между
// чтением и увеличением счетчика нет.
func (r *RedisLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	key := r.prefix + identifier

	raw, err := incrScript.Run(ctx, r.client, []string{key}, r.window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply: %v", raw)
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("unexpected rate limit script reply: %v", raw)
	}

	resetAt := r.now().Add(time.Duration(ttl) * time.Millisecond)
	return newResult(int(count), r.limit, resetAt), nil
}
