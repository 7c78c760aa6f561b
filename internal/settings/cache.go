// Package settings — кэш настроек гильдий в памяти процесса.
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra"
)

// Repository долговременное хранилище настроек (таблица guild_settings).
type Repository interface {
	AllSettings(ctx context.Context) ([]domain.GuildSettings, error)
	GetSettings(ctx context.Context, guildID string) (domain.GuildSettings, bool, error)
}

// Cache отдает настройки только из памяти: ход агента не ходит в БД.
// Загружается целиком при старте, точечно обновляется по сигналу из консоли.
// Для неизвестной гильдии отдает значения по умолчанию.
type Cache struct {
	mu       sync.RWMutex
	settings map[string]domain.GuildSettings

	repo   Repository // nil — только значения по умолчанию
	rdb    *redis.Client
	logger *zap.Logger
}

func NewCache(repo Repository, rdb *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{
		settings: make(map[string]domain.GuildSettings),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("settings"),
	}
}

// Get горячий путь (agent.SettingsSource).
func (c *Cache) Get(_ context.Context, guildID string) domain.GuildSettings {
	c.mu.RLock()
	s, ok := c.settings[guildID]
	c.mu.RUnlock()
	if !ok {
		return domain.DefaultGuildSettings(guildID)
	}
	return normalize(s)
}

// Put кладет настройки в кэш (тесты, режим без БД).
func (c *Cache) Put(s domain.GuildSettings) {
	c.mu.Lock()
	c.settings[s.GuildID] = s
	c.mu.Unlock()
}

// Refresh холодная загрузка всех настроек.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	all, err := c.repo.AllSettings(ctx)
	if err != nil {
		return fmt.Errorf("settings: refresh: %w", err)
	}

	next := make(map[string]domain.GuildSettings, len(all))
	for _, s := range all {
		next[s.GuildID] = s
	}

	c.mu.Lock()
	c.settings = next
	c.mu.Unlock()

	c.logger.Info("settings cache refreshed", zap.Int("count", len(next)))
	return nil
}

// Reload перечитывает одну гильдию.
func (c *Cache) Reload(ctx context.Context, guildID string) error {
	if c.repo == nil {
		return nil
	}
	s, found, err := c.repo.GetSettings(ctx, guildID)
	if err != nil {
		return fmt.Errorf("settings: reload %s: %w", guildID, err)
	}
	c.mu.Lock()
	if found {
		c.settings[guildID] = s
	} else {
		delete(c.settings, guildID)
	}
	c.mu.Unlock()
	return nil
}

// StartListener слушает канал обновлений (payload — id гильдии) до отмены ctx.
func (c *Cache) StartListener(ctx context.Context) {
	if c.rdb == nil {
		<-ctx.Done()
		return
	}
	infra.ListenResilient(ctx, c.rdb, c.logger, infra.RedisChanSettingsUpdate, c.Refresh, func(payload string) {
		guildID := strings.TrimSpace(payload)
		if guildID == "" {
			return
		}
		if err := c.Reload(ctx, guildID); err != nil {
			c.logger.Warn("settings reload failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	})
}

// normalize подставляет значения по умолчанию в незаполненные поля.
func normalize(s domain.GuildSettings) domain.GuildSettings {
	if s.Language == "" {
		s.Language = domain.LangEN
	}
	if s.RateLimitPerMin <= 0 {
		s.RateLimitPerMin = domain.DefaultRateLimitPerMin
	}
	return s
}
