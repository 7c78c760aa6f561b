package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "guildops"
)

// Ключи для Sets (состояние гильдий)
const (
	RedisKeyPausedGuilds    = RedisNamespace + ":guilds:paused_set"
	RedisKeyDryRunGuilds    = RedisNamespace + ":guilds:dry_run_set"
	RedisKeyLockPaused      = RedisNamespace + ":lock:warmup:paused"
	RedisKeyLockDryRun      = RedisNamespace + ":lock:warmup:dry_run"
	RedisKeyLockRetention   = RedisNamespace + ":lock:retention_sweep"
	redisKeyRateLimitPrefix = RedisNamespace + ":ratelimit:"
)

// Каналы Pub/Sub (события)
const (
	RedisChanPause          = RedisNamespace + ":guilds:pause-signal"
	RedisChanDryRun         = RedisNamespace + ":guilds:dry-run-signal"
	RedisChanSettingsUpdate = RedisNamespace + ":guilds:settings-update"
)

// RateLimitKey — ключ счетчика бакета (например "guildops:ratelimit:destructive:123").
func RateLimitKey(bucket string) string {
	return redisKeyRateLimitPrefix + bucket
}

// GetWarmupLockKey Генератор ключей для блокировок (если нужны динамические)
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
