package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/infra"
)

// ParseSignal разбирает сигнал "guild_id:on" / "guild_id:off" (допускаются true/false).
func ParseSignal(payload string) (string, bool, error) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", false, fmt.Errorf("invalid signal format: %q", payload)
	}
	switch payload[i+1:] {
	case "on", "true":
		return payload[:i], true, nil
	case "off", "false":
		return payload[:i], false, nil
	}
	return "", false, fmt.Errorf("invalid signal state: %q", payload)
}

// FormatSignal — обратная операция к ParseSignal.
func FormatSignal(id string, on bool) string {
	if on {
		return id + ":on"
	}
	return id + ":off"
}

// ListenStateResilient слушает сигналы флага и применяет их через onSignal.
// Битые сигналы пишутся в лог и пропускаются.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func(ctx context.Context) error,
	onSignal func(id string, on bool),
) {
	infra.ListenResilient(ctx, rdb, logger, channel, onReconnect, func(payload string) {
		id, on, err := ParseSignal(payload)
		if err != nil {
			logger.Error("invalid signal", zap.String("payload", payload), zap.Error(err))
			return
		}
		onSignal(id, on)
	})
}
