package ledger

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// Store долговременное хранилище записей. Transition обязан быть одним атомарным
// условным обновлением, а не read-then-write.
type Store interface {
	Create(ctx context.Context, rec *domain.ConfirmationRecord) error
	Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error)
	Transition(ctx context.Context, id string, t domain.Transition) (*domain.ConfirmationRecord, error)
	List(ctx context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// InMemoryStore хранит записи в памяти процесса с тем же CAS, что и БД.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.ConfirmationRecord
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]domain.ConfirmationRecord), now: time.Now}
}

func (s *InMemoryStore) Create(_ context.Context, rec *domain.ConfirmationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = cloneRecord(*rec)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*domain.ConfirmationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (s *InMemoryStore) Transition(_ context.Context, id string, t domain.Transition) (*domain.ConfirmationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	if rec.ConfirmationStatus != t.FromConfirmation || rec.Status != t.FromStatus {
		return nil, domain.ErrAlreadyResolved
	}
	rec.ConfirmationStatus = t.Confirmation
	rec.Status = t.Status
	rec.ErrorMessage = t.ErrorMessage
	if t.Result != nil {
		rec.Payload.Result = t.Result
	}
	rec.UpdatedAt = s.now()
	s.records[id] = cloneRecord(rec)
	out := cloneRecord(rec)
	return &out, nil
}

func (s *InMemoryStore) List(_ context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.ConfirmationRecord, 0)
	for _, rec := range s.records {
		if f.GuildID != "" && rec.GuildID != f.GuildID {
			continue
		}
		if f.ConfirmationStatus != "" && rec.ConfirmationStatus != f.ConfirmationStatus {
			continue
		}
		rec := cloneRecord(rec)
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.CreatedAt.Before(olderThan) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// cloneRecord копирует запись целиком, включая вложенные params: вызывающий
// не может изменить хранимое состояние через возвращенный указатель.
func cloneRecord(rec domain.ConfirmationRecord) domain.ConfirmationRecord {
	rec.TargetID = clonePtr(rec.TargetID)
	rec.ErrorMessage = clonePtr(rec.ErrorMessage)

	req := &rec.Payload.Request
	req.Params = cloneParams(req.Params)
	if req.Actions != nil {
		actions := make([]domain.PlannedAction, len(req.Actions))
		for i, a := range req.Actions {
			a.Params = cloneParams(a.Params)
			actions[i] = a
		}
		req.Actions = actions
	}

	imp := &rec.Payload.Impact
	imp.Channels = slices.Clone(imp.Channels)
	imp.Roles = slices.Clone(imp.Roles)
	imp.Members = slices.Clone(imp.Members)
	imp.Permissions = slices.Clone(imp.Permissions)

	if r := rec.Payload.Result; r != nil {
		cp := *r
		cp.EntityIDs = slices.Clone(r.EntityIDs)
		rec.Payload.Result = &cp
	}
	return rec
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneParams(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}
