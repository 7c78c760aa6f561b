package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"go.uber.org/zap"
)

// Store хранилище памяти тредов. Append обязан быть атомарным read-modify-write.
type Store interface {
	Get(ctx context.Context, threadID string) (domain.ThreadMemory, bool, error)
	Append(ctx context.Context, threadID, guildID, ownerUserID, line string) (domain.ThreadMemory, error)
}

// InMemoryStore реализация для тестов и режима без БД.
type InMemoryStore struct {
	mu      sync.Mutex
	threads map[string]domain.ThreadMemory
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]domain.ThreadMemory), now: time.Now}
}

func (s *InMemoryStore) Get(_ context.Context, threadID string) (domain.ThreadMemory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.threads[threadID]
	return m, ok, nil
}

func (s *InMemoryStore) Append(_ context.Context, threadID, guildID, ownerUserID, line string) (domain.ThreadMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.threads[threadID]
	if !ok {
		m = domain.ThreadMemory{ThreadID: threadID, GuildID: guildID, OwnerUserID: ownerUserID}
	}
	m.Summary = domain.AppendSummary(m.Summary, line)
	m.UpdatedAt = s.now()
	s.threads[threadID] = m
	return m, nil
}

// Recorder пишет в память треда и не мешает ходу при сбое хранилища.
type Recorder struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.Named("memory"), now: time.Now}
}

// Load возвращает журнал треда (пустой, если его нет или хранилище недоступно).
func (r *Recorder) Load(ctx context.Context, threadID string) (domain.ThreadMemory, bool) {
	m, ok, err := r.store.Get(ctx, threadID)
	if err != nil {
		r.logger.Warn("thread memory load failed", zap.String("thread_id", threadID), zap.Error(err))
		return domain.ThreadMemory{}, false
	}
	return m, ok
}

// RememberRequest записывает запрос пользователя.
func (r *Recorder) RememberRequest(ctx context.Context, threadID, guildID, ownerUserID, text string, lang domain.Language) {
	line, ok := SummarizeRequest(text, lang)
	if !ok {
		return
	}
	r.append(ctx, threadID, guildID, ownerUserID, line)
}

// RememberOutcomes записывает исходы мутаций.
func (r *Recorder) RememberOutcomes(ctx context.Context, threadID, guildID, ownerUserID string, results []domain.ActionResult, lang domain.Language) {
	lines, ok := SummarizeOutcomes(results, lang, r.now())
	if !ok {
		return
	}
	r.append(ctx, threadID, guildID, ownerUserID, lines)
}

func (r *Recorder) append(ctx context.Context, threadID, guildID, ownerUserID, line string) {
	if _, err := r.store.Append(ctx, threadID, guildID, ownerUserID, line); err != nil {
		r.logger.Warn("thread memory append failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}
