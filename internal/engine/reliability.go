package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/guildops-agent/internal/connectors"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/plan"
)

// NewBreaker собирает предохранитель из настроек движка.
// Троттлинг и отмена запроса клиентом сбоем не считаются: удаленная сторона жива.
func NewBreaker(name string, cfg infra.EngineConfig, metrics *Metrics) *gobreaker.CircuitBreaker {
	maxFailures := cfg.CBMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: max(cfg.CBMaxRequests, 1),
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если ошибок подряд больше порога — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > maxFailures
		},
		IsSuccessful: func(err error) bool {
			var tErr *connectors.ThrottleError
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &tErr)
		},
	}
	if metrics != nil {
		settings.OnStateChange = metrics.BreakerStateChanged
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// ModelGuard оборачивает адаптер модели: темп запросов, предохранитель, таймаут.
// Повторов здесь нет: единственный повтор со строгой инструкцией делает планировщик.
type ModelGuard struct {
	next    plan.ModelAdapter
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
	metrics *Metrics
}

func NewModelGuard(next plan.ModelAdapter, cfg infra.EngineConfig, timeout time.Duration, metrics *Metrics) *ModelGuard {
	rps := cfg.ModelRPS
	if rps <= 0 {
		rps = 5
	}
	return &ModelGuard{
		next:    next,
		cb:      NewBreaker("model", cfg, metrics),
		limiter: rate.NewLimiter(rate.Limit(rps), max(cfg.ModelBurst, 1)),
		timeout: timeout,
		metrics: metrics,
	}
}

func (g *ModelGuard) Generate(ctx context.Context, messages []domain.ChatMessage, schema map[string]any) (string, error) {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("model rate limit: %w", err)
	}

	start := time.Now()

	// 2. Circuit Breaker
	out, err := g.cb.Execute(func() (interface{}, error) {
		tCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			tCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.next.Generate(tCtx, messages, schema)
	})

	if g.metrics != nil {
		g.metrics.ObserveModelCall(time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State текущее состояние предохранителя модели.
func (g *ModelGuard) State() gobreaker.State {
	return g.cb.State()
}
