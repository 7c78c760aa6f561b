package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

// FlagSpec связывает флаг с ключами Redis.
type FlagSpec struct {
	Name    string
	SetKey  string
	LockKey string
	Channel string
}

var (
	PauseFlag  = FlagSpec{Name: domain.FlagPaused, SetKey: infra.RedisKeyPausedGuilds, LockKey: infra.RedisKeyLockPaused, Channel: infra.RedisChanPause}
	DryRunFlag = FlagSpec{Name: domain.FlagDryRun, SetKey: infra.RedisKeyDryRunGuilds, LockKey: infra.RedisKeyLockDryRun, Channel: infra.RedisChanDryRun}
)

// FlagSource долговременное хранилище флагов (таблица guild_settings).
type FlagSource interface {
	FlaggedGuilds(ctx context.Context, flag string) ([]string, error)
}

// FlagManager держит множество гильдий с флагом в памяти (L1) и синхронизирует его
// через Redis: Set (L2) при старте, Pub/Sub-сигналы во время работы.
// Без Redis работает только на состоянии из БД и ручных Set.
type FlagManager struct {
	spec   FlagSpec
	repo   FlagSource
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	guilds map[string]bool
}

func NewFlagManager(spec FlagSpec, rdb *redis.Client, repo FlagSource, logger *zap.Logger) *FlagManager {
	return &FlagManager{
		spec:   spec,
		repo:   repo,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "flag"), zap.String("flag", spec.Name)),
		guilds: make(map[string]bool),
	}
}

// Init загружает состояние флага при старте (и при каждом переподключении к Redis).
func (m *FlagManager) Init(ctx context.Context) error {
	var ids []string
	if m.repo != nil {
		var err error
		if ids, err = m.repo.FlaggedGuilds(ctx, m.spec.Name); err != nil {
			return fmt.Errorf("failed to fetch %s guilds from DB: %w", m.spec.Name, err)
		}
	}
	if m.rdb != nil {
		merged, err := WarmupSet(ctx, m.rdb, m.logger, ids, m.spec.SetKey, m.spec.LockKey)
		if err != nil {
			m.logger.Warn("redis warmup failed, using db state", zap.Error(err))
		}
		ids = merged
	}
	m.replace(ids)
	m.logger.Info("flag state loaded", zap.Int("guilds", len(ids)))
	return nil
}

func (m *FlagManager) replace(ids []string) {
	next := make(map[string]bool, len(ids))
	for _, id := range ids {
		next[id] = true
	}
	m.mu.Lock()
	m.guilds = next
	m.mu.Unlock()
}

// StartListener блокируется до отмены ctx, применяя сигналы из Redis.
func (m *FlagManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		<-ctx.Done()
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, m.spec.Channel, m.Init, m.Set)
}

// Set применяет сигнал к локальному состоянию.
func (m *FlagManager) Set(guildID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.guilds[guildID] = true
	} else {
		delete(m.guilds, guildID)
	}
	m.logger.Info("flag toggled", zap.String("guild_id", guildID), zap.Bool("on", on))
}

// Is горячий путь: только чтение из памяти.
func (m *FlagManager) Is(guildID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guilds[guildID]
}

// GuildFlags объединяет паузу и песочницу (agent.GuildFlags).
type GuildFlags struct {
	Pause  *FlagManager
	DryRun *FlagManager
}

func (f GuildFlags) IsPaused(guildID string) bool { return f.Pause != nil && f.Pause.Is(guildID) }
func (f GuildFlags) IsDryRun(guildID string) bool { return f.DryRun != nil && f.DryRun.Is(guildID) }

// ModeInvoker направляет вызовы гильдий в песочнице через DryRunInvoker.
type ModeInvoker struct {
	live   tools.Invoker
	dryRun tools.Invoker
	flags  interface{ IsDryRun(string) bool }
}

func NewModeInvoker(live tools.Invoker, flags interface{ IsDryRun(string) bool }) *ModeInvoker {
	return &ModeInvoker{live: live, dryRun: tools.NewDryRunInvoker(live), flags: flags}
}

func (i *ModeInvoker) Invoke(ctx context.Context, tc tools.Context, action domain.PlannedAction) (tools.Result, error) {
	if i.flags.IsDryRun(tc.GuildID) {
		return i.dryRun.Invoke(ctx, tc, action)
	}
	return i.live.Invoke(ctx, tc, action)
}
