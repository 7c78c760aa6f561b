package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Traffic: ходы по исходу (finished, deferred, rejected, ...)
	TurnsTotal *prometheus.CounterVec

	// Сколько шагов цикла понадобилось ходу
	TurnSteps prometheus.Histogram

	// Исполненные действия: result = ok | failed
	ActionsTotal *prometheus.CounterVec

	// Errors: отказы guardrail по коду причины
	GuardrailRejections *prometheus.CounterVec

	// Решения по подтверждениям: decision = confirm | reject
	ConfirmationsTotal *prometheus.CounterVec

	// Latency: вызовы модели
	ModelCallDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TurnsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guildops_turns_total",
			Help: "Total number of agent turns by outcome.",
		}, []string{"outcome"}),

		TurnSteps: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "guildops_turn_steps",
			Help:    "Number of planning steps used per turn.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8},
		}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guildops_actions_total",
			Help: "Total number of executed actions by result.",
		}, []string{"action", "result"}),

		GuardrailRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guildops_guardrail_rejections_total",
			Help: "Total number of guardrail rejections by reason.",
		}, []string{"reason"}),

		ConfirmationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guildops_confirmations_total",
			Help: "Total number of confirmation decisions by final record status.",
		}, []string{"decision", "status"}),

		ModelCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guildops_model_call_duration_seconds",
			Help:    "Histogram of model call latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "guildops_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guildops_audit_buffer_utilization",
			Help: "Current fill ratio of the audit buffer.",
		}),
	}
}

// Реализация agent.Metrics

func (m *Metrics) TurnFinished(outcome string, steps int) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnSteps.Observe(float64(steps))
}

func (m *Metrics) ActionExecuted(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) GuardrailRejected(reason string) {
	m.GuardrailRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConfirmationResolved(decision, status string) {
	m.ConfirmationsTotal.WithLabelValues(decision, status).Inc()
}

func (m *Metrics) ObserveModelCall(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ModelCallDuration.WithLabelValues(status).Observe(d.Seconds())
}

// BreakerStateChanged подходит как gobreaker.Settings.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _ gobreaker.State, to gobreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

// WatchAuditBuffer снимает заполненность буфера аудита, пока жив ctx.
func (m *Metrics) WatchAuditBuffer(ctx context.Context, src interface{ Utilization() float64 }, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.AuditBufferFill.Set(src.Utilization())
		}
	}
}
