package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/guildops-agent/internal/infra"
)

// consumeScript атомарно проверяет и увеличивает счетчик фиксированного окна на ARGV[3].
// TTL ставится только при создании ключа, поэтому окно не сдвигается.
var consumeScript = redis.NewScript(`
local n = tonumber(ARGV[3])
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count + n > tonumber(ARGV[1]) then
  return 0
end
count = redis.call("INCRBY", KEYS[1], n)
if count == n then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// RedisLimiter — распределенная реализация для нескольких инстансов движка.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{rdb: rdb, window: window}
}

func (r *RedisLimiter) TryConsume(ctx context.Context, key string, limit int) (bool, error) {
	return r.TryConsumeN(ctx, key, 1, limit)
}

func (r *RedisLimiter) TryConsumeN(ctx context.Context, key string, n, limit int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	res, err := consumeScript.Run(ctx, r.rdb, []string{infra.RateLimitKey(key)}, limit, r.window.Milliseconds(), n).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: consume %s: %w", key, err)
	}
	return res == 1, nil
}

func (r *RedisLimiter) Remaining(ctx context.Context, key string, limit int) (int, error) {
	count, err := r.rdb.Get(ctx, infra.RateLimitKey(key)).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: read %s: %w", key, err)
	}
	if rem := limit - count; rem > 0 {
		return rem, nil
	}
	return 0, nil
}
