package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/engine"
	"github.com/xela07ax/guildops-agent/internal/infra"
)

var ErrBadFilter = errors.New("bad filter")

// FlagStore — долговременное состояние флагов гильдий.
type FlagStore interface {
	SetFlag(ctx context.Context, guildID, flag string, on bool) error
}

// GuildService переключает паузу и dry-run гильдий.
type GuildService struct {
	repo   FlagStore
	rdb    *redis.Client
	logger *zap.Logger
}

func NewGuildService(repo FlagStore, rdb *redis.Client, logger *zap.Logger) *GuildService {
	return &GuildService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("guild-service"),
	}
}

// updateFlag: сначала БД (источник правды), затем L2 Set и сигнал движкам.
// Недоставленный сигнал не ошибка: движки подтянут состояние при переподключении.
func (s *GuildService) updateFlag(ctx context.Context, guildID string, spec engine.FlagSpec, on bool) error {
	if err := s.repo.SetFlag(ctx, guildID, spec.Name, on); err != nil {
		s.logger.Error("failed to update guild flag in DB",
			zap.String("guild_id", guildID),
			zap.String("flag", spec.Name),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", spec.Name, err)
	}
	if s.rdb == nil {
		return nil
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if on {
			pipe.SAdd(ctx, spec.SetKey, guildID)
		} else {
			pipe.SRem(ctx, spec.SetKey, guildID)
		}
		pipe.Publish(ctx, spec.Channel, engine.FormatSignal(guildID, on))
		return nil
	})
	if err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("flag", spec.Name),
			zap.String("channel", spec.Channel),
			zap.Error(err))
		return nil
	}
	s.logger.Info("guild flag updated",
		zap.String("guild_id", guildID),
		zap.String("flag", spec.Name),
		zap.Bool("on", on))
	return nil
}

func (s *GuildService) Pause(ctx context.Context, guildID string) error {
	return s.updateFlag(ctx, guildID, engine.PauseFlag, true)
}

func (s *GuildService) Resume(ctx context.Context, guildID string) error {
	return s.updateFlag(ctx, guildID, engine.PauseFlag, false)
}

func (s *GuildService) SetDryRun(ctx context.Context, guildID string, enabled bool) error {
	return s.updateFlag(ctx, guildID, engine.DryRunFlag, enabled)
}

// ReloadSettings просит движки перечитать настройки гильдии.
func (s *GuildService) ReloadSettings(ctx context.Context, guildID string) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Publish(ctx, infra.RedisChanSettingsUpdate, guildID).Err()
}
