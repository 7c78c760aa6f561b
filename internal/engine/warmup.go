package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const warmupLockTTL = 30 * time.Second

// WarmupSet переносит флаги из БД в Redis-множество, если оно пусто.
// Заливку делает один инстанс: распределенная блокировка SetNX.
// Возвращает объединение флагов БД и Redis для локального кэша.
func WarmupSet(ctx context.Context, rdb *redis.Client, logger *zap.Logger, ids []string, setKey, lockKey string) ([]string, error) {
	cached, err := rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return ids, err
	}

	ok, err := rdb.SetNX(ctx, lockKey, "processing", warmupLockTTL).Result()
	if err != nil || !ok {
		// Либо ошибка сети, либо другой инстанс уже греет кэш
		return union(ids, cached), nil
	}

	if len(cached) == 0 && len(ids) > 0 {
		logger.Info("redis flag set is empty, warming up from db",
			zap.String("key", setKey), zap.Int("count", len(ids)))

		pipe := rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, setKey, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return ids, err
		}
	}
	return union(ids, cached), nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
