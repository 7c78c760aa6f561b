package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/agent"
	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/connectors"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/ledger"
	"github.com/xela07ax/guildops-agent/internal/memory"
	"github.com/xela07ax/guildops-agent/internal/plan"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

const (
	testGuild  = "g1"
	testThread = "t-1"
	testOwner  = "300" // член роли Admin в MockPlatform
)

// scriptedModel отдает ответы по очереди; последний повторяется.
type scriptedModel struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (m *scriptedModel) Generate(context.Context, []domain.ChatMessage, map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := min(m.calls, len(m.replies)-1)
	m.calls++
	return m.replies[i], nil
}

type nopAuditor struct{}

func (nopAuditor) Log(audit.AuditEvent) {}

type staticSettings struct{}

func (staticSettings) Get(_ context.Context, guildID string) domain.GuildSettings {
	return domain.DefaultGuildSettings(guildID)
}

// tokenTable — валидатор токенов для тестов: токен -> claims.
type tokenTable map[string]*domain.CustomClaims

func (t tokenTable) VerifyToken(token string) (*domain.CustomClaims, error) {
	if c, ok := t[token]; ok {
		return c, nil
	}
	return nil, errors.New("unknown token")
}

func claims(scopes ...string) *domain.CustomClaims {
	c := &domain.CustomClaims{UserID: "chat-transport", Scopes: map[string]bool{}}
	for _, s := range scopes {
		c.Scopes[s] = true
	}
	return c
}

var testTokens = tokenTable{
	"Bearer transport": claims(domain.ScopeTurns, domain.ScopeConfirmations),
	"Bearer reader":    claims(domain.ScopeConsoleRead),
}

type stack struct {
	gateway  *Gateway
	metrics  *Metrics
	registry *prometheus.Registry
	platform *connectors.MockPlatform
	flags    GuildFlags
}

func newStack(t *testing.T, replies ...string) *stack {
	t.Helper()
	log := zap.NewNop()

	s := &stack{
		registry: prometheus.NewRegistry(),
		platform: connectors.NewMockPlatform(),
		flags: GuildFlags{
			Pause:  NewFlagManager(PauseFlag, nil, nil, log),
			DryRun: NewFlagManager(DryRunFlag, nil, nil, log),
		},
	}
	s.metrics = NewMetrics(s.registry)

	reg := tools.NewRegistry()
	s.platform.Register(reg)
	invoker := NewModeInvoker(reg, s.flags)

	limiter := ratelimit.NewMemoryLimiter(time.Minute)
	guard := guardrail.NewPipeline(guardrail.Config{}, reg, s.platform, s.platform, limiter, log)
	recorder := memory.NewRecorder(memory.NewInMemoryStore(), log)
	led := ledger.NewService(ledger.NewInMemoryStore(), guard, limiter, invoker, nopAuditor{}, recorder, log).WithPauseGate(s.flags)

	ctrl := agent.NewController(agent.Config{}, agent.Deps{
		Planner:   plan.NewPlanner(&scriptedModel{replies: replies}, log).WithRetryDelay(time.Millisecond),
		Guard:     guard,
		Ledger:    led,
		Impact:    impact.NewResolver(s.platform),
		Invoker:   invoker,
		Limiter:   limiter,
		Auditor:   nopAuditor{},
		Memory:    recorder,
		Settings:  staticSettings{},
		Oracle:    s.platform,
		Directory: s.platform,
		Flags:     s.flags,
		Metrics:   s.metrics,
	}, log)

	s.gateway = NewGateway(ctrl, led, staticSettings{}, s.flags, s.metrics, log)
	return s
}

func turn(content string) agent.TurnRequest {
	return agent.TurnRequest{
		GuildID:  testGuild,
		ThreadID: testThread,
		ActorID:  testOwner,
		ActorTag: "owner#0001",
		Content:  content,
	}
}

const (
	finishHello    = `{"type":"finish","reply":"hello"}`
	deleteAnnounce = `{"type":"act","reply":"Removing it.","actions":[{"action":"delete_channel","params":{"channel_id":"101"}}]}`
)
