package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/connectors"
	"github.com/xela07ax/guildops-agent/internal/domain"
)

// ModelAdapter — внешний адаптер модели. Формат ответа не гарантирован.
type ModelAdapter interface {
	Generate(ctx context.Context, messages []domain.ChatMessage, schema map[string]any) (string, error)
}

// Planner запрашивает у модели следующий шаг. При сбое транспорта делает ровно один повтор
// с более строгой инструкцией, затем сдается.
type Planner struct {
	model      ModelAdapter
	logger     *zap.Logger
	retryDelay time.Duration
}

func NewPlanner(model ModelAdapter, logger *zap.Logger) *Planner {
	return &Planner{
		model:      model,
		logger:     logger.Named("planner"),
		retryDelay: 200 * time.Millisecond,
	}
}

// WithRetryDelay переопределяет базовую задержку перед повтором.
func (p *Planner) WithRetryDelay(d time.Duration) *Planner {
	p.retryDelay = d
	return p
}

// NextStep возвращает нормализованный шаг; ошибка означает, что модель недоступна после повтора.
func (p *Planner) NextStep(ctx context.Context, messages []domain.ChatMessage, opts Options) (domain.AgentStep, error) {
	var raw string
	attempt := 0

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(p.retryDelay),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		msgs := messages
		if attempt > 0 {
			msgs = withStricterInstruction(messages)
		}
		attempt++

		out, callErr := p.model.Generate(ctx, msgs, StepSchema)
		if callErr != nil {
			p.logger.Warn("model generation failed", zap.Int("attempt", attempt), zap.Error(callErr))
			return callErr
		}
		raw = out
		return nil
	})
	if err != nil {
		return domain.AgentStep{}, fmt.Errorf("plan: model unavailable: %w", err)
	}

	p.logger.Debug("model output", zap.String("raw", truncateRunes(raw, 500)))
	return Normalize(raw, opts), nil
}

// withStricterInstruction вставляет системную инструкцию сразу после основного промпта.
func withStricterInstruction(messages []domain.ChatMessage) []domain.ChatMessage {
	strict := domain.ChatMessage{Role: domain.RoleSystem, Content: StricterInstruction}
	out := make([]domain.ChatMessage, 0, len(messages)+1)
	if len(messages) == 0 {
		return append(out, strict)
	}
	out = append(out, messages[0], strict)
	return append(out, messages[1:]...)
}
