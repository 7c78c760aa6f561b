package audit

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// Fanout пишет пачку во все хранилища. Сбой одного не мешает остальным.
type Fanout []StorageInterface

func (f Fanout) WriteBatch(ctx context.Context, events []AuditEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.WriteBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retrying повторяет запись в одно хранилище. Оборачивать каждый приемник Fanout
// отдельно, иначе сбой одного приведет к повторной отправке в остальные.
type Retrying struct {
	next     StorageInterface
	attempts uint
	delay    time.Duration
}

func WithRetry(next StorageInterface, attempts uint, delay time.Duration) *Retrying {
	if attempts == 0 {
		attempts = 3
	}
	return &Retrying{next: next, attempts: attempts, delay: delay}
}

func (r *Retrying) WriteBatch(ctx context.Context, events []AuditEvent) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		return r.next.WriteBatch(ctx, events)
	})
}

// LogSink пишет события в zap, когда внешние приемники не настроены.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteBatch(_ context.Context, events []AuditEvent) error {
	for _, e := range events {
		s.Logger.Info("audit",
			zap.String("guild_id", e.GuildID),
			zap.String("actor", e.ActorTag),
			zap.String("action", e.Action),
			zap.String("status", e.Status),
			zap.String("confirmation", e.Confirmation),
			zap.String("mode", e.Mode),
			zap.String("message", e.Message),
		)
	}
	return nil
}
