package ratelimit

/*
Фиксированное окно (60 секунд) с ленивым сбросом: бакет обнуляется при первом обращении после resetAt.
Проверка и инкремент выполняются атомарно на ключ — два параллельных хода не могут
вместе превысить лимит.
*/

import (
	"context"
	"sync"
	"time"
)

const DefaultWindow = time.Minute

// Limiter инжектируемое хранилище счетчиков.
type Limiter interface {
	// TryConsume забирает одну единицу емкости. false — лимит исчерпан, счетчик не изменен.
	TryConsume(ctx context.Context, key string, limit int) (bool, error)
	// TryConsumeN забирает n единиц разом либо ни одной: пакет не исполняется наполовину.
	TryConsumeN(ctx context.Context, key string, n, limit int) (bool, error)
	// Remaining возвращает остаток емкости без ее расходования.
	Remaining(ctx context.Context, key string, limit int) (int, error)
}

// Bucket состояние бакета.
type Bucket struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// MemoryLimiter хранит счетчики в памяти процесса (один инстанс).
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		buckets: make(map[string]*Bucket),
		window:  window,
		now:     time.Now,
	}
}

// current возвращает актуальный бакет; вызывается под мьютексом.
func (m *MemoryLimiter) current(key string) *Bucket {
	now := m.now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.ResetAt) {
		b = &Bucket{Key: key, ResetAt: now.Add(m.window)}
		m.buckets[key] = b
	}
	return b
}

func (m *MemoryLimiter) TryConsume(ctx context.Context, key string, limit int) (bool, error) {
	return m.TryConsumeN(ctx, key, 1, limit)
}

func (m *MemoryLimiter) TryConsumeN(_ context.Context, key string, n, limit int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.current(key)
	if b.Count+n > limit {
		return false, nil
	}
	b.Count += n
	return true, nil
}

func (m *MemoryLimiter) Remaining(_ context.Context, key string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rem := limit - m.current(key).Count
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// Snapshot возвращает копию бакета (для диагностики и тестов).
func (m *MemoryLimiter) Snapshot(key string) (Bucket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}
