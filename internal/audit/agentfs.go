package audit

/*
Асинхронный журнал аудита.
- Log не блокирует ход агента: событие уходит в буферизованный канал, при переполнении сбрасывается с ошибкой в лог.
- Воркер пишет пачками по таймеру или по размеру пачки.
- Stop закрывает канал и ждет финальный flush: при штатной остановке события не теряются.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

// Auditor приемник событий для ядра.
type Auditor interface {
	Log(event AuditEvent)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	return o
}

type AgentFS struct {
	ch     chan AuditEvent
	repo   StorageInterface
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Log после Stop
	isClosed int32
}

func NewAgentFS(repo StorageInterface, opts Options, logger *zap.Logger) *AgentFS {
	opts = opts.withDefaults()
	return &AgentFS{
		ch:     make(chan AuditEvent, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("mod", "agentfs")),
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	if !atomic.CompareAndSwapInt32(&fs.isClosed, 0, 1) {
		return
	}

	// Даем текущим Log проскочить
	time.Sleep(10 * time.Millisecond)

	fs.logger.Info("stopping auditor: closing channel and flushing buffer")
	close(fs.ch)
	fs.wg.Wait()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event AuditEvent) {
	event = event.Normalize()

	if atomic.LoadInt32(&fs.isClosed) == 1 {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: ход агента важнее записи аудита
	select {
	case fs.ch <- event:
	default:
		fs.logger.Error("audit_buffer_overflow",
			zap.String("guild_id", event.GuildID),
			zap.String("action", event.Action),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Utilization доля заполненности буфера (для метрик).
func (fs *AgentFS) Utilization() float64 {
	return float64(len(fs.ch)) / float64(cap(fs.ch))
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]AuditEvent, 0, fs.opts.BatchSize)
	ticker := time.NewTicker(fs.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст вызывающего к этому моменту может быть закрыт
		if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
			fs.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				// Канал закрыт в Stop: остатки уже вычитаны, финальный сброс
				flush()
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
