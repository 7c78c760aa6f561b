package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/agent"
	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/ledger"
)

var _ agent.Metrics = (*Metrics)(nil)

// ErrBadRequest запрос транспорта не прошел проверку полей.
var ErrBadRequest = errors.New("engine: bad request")

// Decision кнопка, нажатая под запросом подтверждения.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// ResolveInput нажатие Accept/Reject, как его присылает транспорт чата.
type ResolveInput struct {
	RecordID string `json:"-"`
	GuildID  string `json:"guild_id"`
	ActorID  string `json:"actor_id"`
	ActorTag string `json:"actor_tag"`
	ThreadID string `json:"thread_id"`
}

// ResolveOutput ответ пользователю. Ephemeral виден только нажавшему.
type ResolveOutput struct {
	Message   string `json:"message"`
	Ephemeral bool   `json:"ephemeral"`
}

// Gateway единый вход для HTTP и gRPC: ход агента и решения по подтверждениям.
type Gateway struct {
	agent    *agent.Controller
	ledger   *ledger.Service
	settings agent.SettingsSource
	flags    agent.GuildFlags
	metrics  *Metrics
	logger   *zap.Logger
}

func NewGateway(ctrl *agent.Controller, led *ledger.Service, settings agent.SettingsSource, flags agent.GuildFlags, metrics *Metrics, logger *zap.Logger) *Gateway {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gateway{
		agent:    ctrl,
		ledger:   led,
		settings: settings,
		flags:    flags,
		metrics:  metrics,
		logger:   logger.Named("gateway"),
	}
}

func required(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%w: %s is required", ErrBadRequest, name)
		}
	}
	return nil
}

// RunTurn проверяет поля и передает ход контроллеру.
func (g *Gateway) RunTurn(ctx context.Context, req agent.TurnRequest) (agent.TurnResult, error) {
	if err := required(map[string]string{"guild_id": req.GuildID, "thread_id": req.ThreadID, "actor_id": req.ActorID}); err != nil {
		return agent.TurnResult{}, err
	}
	req.TraceID = TraceIDFrom(ctx)
	return g.agent.RunTurn(ctx, req)
}

// Resolve исполняет или отклоняет отложенный пакет.
func (g *Gateway) Resolve(ctx context.Context, decision Decision, in ResolveInput) (ResolveOutput, error) {
	if err := required(map[string]string{"id": in.RecordID, "guild_id": in.GuildID, "actor_id": in.ActorID, "thread_id": in.ThreadID}); err != nil {
		return ResolveOutput{}, err
	}

	// Настройки и режим по guild_id запроса: ledger сверяет его с гильдией записи до исполнения
	mode := audit.ModeLive
	if g.flags != nil && g.flags.IsDryRun(in.GuildID) {
		mode = audit.ModeDryRun
	}
	req := ledger.ResolveRequest{
		RecordID: in.RecordID,
		GuildID:  in.GuildID,
		ActorID:  in.ActorID,
		ActorTag: in.ActorTag,
		ThreadID: in.ThreadID,
		Settings: g.settings.Get(ctx, in.GuildID),
		TraceID:  TraceIDFrom(ctx),
		Mode:     mode,
	}

	var (
		resp ledger.Response
		err  error
	)
	switch decision {
	case DecisionConfirm:
		resp, err = g.ledger.Confirm(ctx, req)
	case DecisionReject:
		resp, err = g.ledger.Reject(ctx, req)
	default:
		return ResolveOutput{}, fmt.Errorf("%w: unknown decision %q", ErrBadRequest, decision)
	}
	if err != nil {
		g.logger.Error("confirmation failed",
			zap.String("record_id", in.RecordID),
			zap.String("decision", string(decision)),
			zap.Error(err))
		return ResolveOutput{}, err
	}

	if resp.Decided && resp.Record != nil {
		g.metrics.ConfirmationResolved(string(decision), string(resp.Record.Status))
	}
	return ResolveOutput{Message: resp.Message, Ephemeral: resp.Ephemeral}, nil
}
