package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// Risk класс риска инструмента.
type Risk string

const (
	RiskRead        Risk = "read"
	RiskLow         Risk = "low"
	RiskHigh        Risk = "high"
	RiskDestructive Risk = "destructive"
)

// Meta статические метаданные инструмента.
type Meta struct {
	Risk             Risk     `json:"risk"`
	RequiredBotPerms []string `json:"required_bot_perms,omitempty"`
}

// Context кто и где вызывает инструмент.
type Context struct {
	GuildID  string
	ThreadID string
	ActorID  string
	ActorTag string
	Lang     domain.Language
}

// Result результат инструмента.
type Result struct {
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Data      any      `json:"data,omitempty"`
}

// Handler исполняет инструмент. Ошибку и панику перехватывает Invoke.
type Handler func(ctx context.Context, tc Context, params map[string]any) (Result, error)

type Tool struct {
	Name    string
	Meta    Meta
	Handler Handler
}

// Registry потокобезопасный реестр инструментов.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register добавляет инструмент. Если метаданные не заданы, подставляются из каталога.
func (r *Registry) Register(name string, handler Handler) {
	meta, ok := CatalogMeta(name)
	if !ok {
		meta = Meta{}
	}
	r.RegisterTool(Tool{Name: name, Meta: meta, Handler: handler})
}

func (r *Registry) RegisterTool(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Lookup ищет инструмент по имени действия.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Meta возвращает метаданные зарегистрированного инструмента, иначе — из каталога.
func (r *Registry) Meta(name string) (Meta, bool) {
	if t, ok := r.Lookup(name); ok && t.Meta.Risk != "" {
		return t.Meta, true
	}
	return CatalogMeta(name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke вызывает обработчик, превращая ошибку или панику в неуспешный Result.
func (r *Registry) Invoke(ctx context.Context, tc Context, action domain.PlannedAction) (res Result, err error) {
	t, ok := r.Lookup(action.Action)
	if !ok {
		return Result{OK: false, Message: tc.Lang.T("Tool not implemented.", "未実装のツールです。")}, ErrToolNotFound
	}
	defer func() {
		if p := recover(); p != nil {
			res = Result{OK: false, Message: tc.Lang.T("Tool execution failed.", "ツールの実行に失敗しました。")}
			err = fmt.Errorf("tools: %s panicked: %v", action.Action, p)
		}
	}()
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	res, err = t.Handler(ctx, tc, params)
	if err != nil {
		return Result{OK: false, Message: tc.Lang.T("Tool execution failed.", "ツールの実行に失敗しました。")}, fmt.Errorf("tools: %s: %w", action.Action, err)
	}
	return res, nil
}
