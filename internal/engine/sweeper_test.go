package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type countingPurger struct {
	calls     atomic.Int32
	retention time.Duration
	err       error
}

func (p *countingPurger) Purge(_ context.Context, retention time.Duration) (int64, error) {
	p.calls.Add(1)
	p.retention = retention
	return 4, p.err
}

func TestRetentionSweeper_SweepWithoutRedis(t *testing.T) {
	p := &countingPurger{}
	s := NewRetentionSweeper(p, nil, 72*time.Hour, time.Minute, zap.NewNop())

	assert.Equal(t, int64(4), s.Sweep(context.Background()))
	assert.Equal(t, 72*time.Hour, p.retention)

	p.err = errors.New("db down")
	assert.Zero(t, s.Sweep(context.Background()))
}

func TestRetentionSweeper_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := &countingPurger{}
	s := NewRetentionSweeper(p, nil, time.Hour, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

type fixedUtilization float64

func (f fixedUtilization) Utilization() float64 { return float64(f) }

func TestMetrics_WatchAuditBuffer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.WatchAuditBuffer(ctx, fixedUtilization(0.25), time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return testutil.ToFloat64(m.AuditBufferFill) == 0.25 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestMetrics_ActionAndRejectionSeries(t *testing.T) {
	m := NewMetrics(nil)
	m.ActionExecuted("create_role", true)
	m.ActionExecuted("create_role", false)
	m.GuardrailRejected("banned")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("create_role", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActionsTotal.WithLabelValues("create_role", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailRejections.WithLabelValues("banned")))
}
