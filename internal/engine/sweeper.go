package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/infra"
)

// Purger то, что удаляет устаревшие записи журнала (ledger.Service).
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionSweeper периодически чистит журнал. При нескольких инстансах
// проход делает тот, кто взял блокировку SetNX; без Redis чистит каждый.
type RetentionSweeper struct {
	purger    Purger
	rdb       *redis.Client
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

func NewRetentionSweeper(p Purger, rdb *redis.Client, retention, interval time.Duration, logger *zap.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionSweeper{
		purger:    p,
		rdb:       rdb,
		retention: retention,
		interval:  interval,
		logger:    logger.With(zap.String("mod", "retention")),
	}
}

// Run блокируется до отмены ctx.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep один проход. Возвращает число удаленных записей (0, если блокировка занята).
func (s *RetentionSweeper) Sweep(ctx context.Context) int64 {
	if s.rdb != nil {
		// Блокировка живет до следующего тика: повторный проход другим инстансом не нужен
		ok, err := s.rdb.SetNX(ctx, infra.RedisKeyLockRetention, "processing", s.interval).Result()
		if err != nil {
			s.logger.Warn("retention lock failed", zap.Error(err))
			return 0
		}
		if !ok {
			return 0
		}
	}
	n, err := s.purger.Purge(ctx, s.retention)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
		return 0
	}
	return n
}
