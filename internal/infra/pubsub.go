package infra

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	resubscribeDelay = time.Second
	subscribeBackoff = 5 * time.Second
)

// SleepCtx ждет d или отмены ctx; false — ctx отменен.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ListenResilient держит "живучую" подписку на канал Redis: переподписка после обрыва,
// полная синхронизация состояния (onReconnect) при каждом успешном подключении.
// Блокируется до отмены ctx.
func ListenResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func(ctx context.Context) error,
	onMessage func(payload string),
) {
	for ctx.Err() == nil {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !SleepCtx(ctx, subscribeBackoff) {
				return
			}
			continue
		}

		// Сообщения, пропущенные во время обрыва, восполняет полная синхронизация
		if err := onReconnect(ctx); err != nil {
			logger.Error("sync failed on reconnect", zap.String("chan", channel), zap.Error(err))
		}

		drain(ctx, pubsub.Channel(), onMessage)
		_ = pubsub.Close()

		if !SleepCtx(ctx, resubscribeDelay) {
			return
		}
	}
}

func drain(ctx context.Context, ch <-chan *redis.Message, onMessage func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return // Канал закрыт, идем на переподключение
			}
			onMessage(msg.Payload)
		}
	}
}
