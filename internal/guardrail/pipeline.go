// Package guardrail решает, можно ли исполнить пакет действий модели: сразу, после подтверждения
// человеком, после наблюдения или никогда.
package guardrail

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeExecute Outcome = "execute"
	OutcomeDefer   Outcome = "defer"
	OutcomeReject  Outcome = "reject"
	OutcomeObserve Outcome = "observe"
)

// Reason машинный код отказа, он же имя действия в аудите.
type Reason string

const (
	ReasonActionLimit          Reason = "action_limit"
	ReasonForbidden            Reason = "action_forbidden"
	ReasonNotAllowed           Reason = "action_not_allowed"
	ReasonMissingPermissions   Reason = "missing_bot_permissions"
	ReasonRateLimit            Reason = "rate_limit"
	ReasonDestructiveRateLimit Reason = "destructive_rate_limit"
)

// Rejection отказ с текстом для пользователя и текстом для аудита.
type Rejection struct {
	Reason       Reason
	Message      string
	AuditMessage string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("guardrail: %s: %s", r.Reason, r.AuditMessage)
}

// Decision итог проверки пакета.
type Decision struct {
	Outcome     Outcome
	Rejection   *Rejection
	Observation *domain.PlannedAction
	Actions     []domain.PlannedAction
	Destructive []domain.PlannedAction
}

// Input пакет действий и контекст гильдии.
type Input struct {
	GuildID         string
	Actions         []domain.PlannedAction
	UserText        string
	Lang            domain.Language
	RateLimitPerMin int
}

type Config struct {
	MaxActions        int
	DestructivePerMin int
}

// Pipeline упорядоченные проверки с остановкой на первом нарушении.
// Лимиты здесь только сверяются через Remaining: емкость расходуется при исполнении каждого действия.
type Pipeline struct {
	cfg      Config
	analyzer *Analyzer
	metas    MetaSource
	oracle   PermissionOracle
	dir      impact.Directory
	limiter  ratelimit.Limiter
	logger   *zap.Logger
}

func NewPipeline(cfg Config, metas MetaSource, oracle PermissionOracle, dir impact.Directory, limiter ratelimit.Limiter, logger *zap.Logger) *Pipeline {
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = domain.MaxActionsPerRequest
	}
	if cfg.DestructivePerMin <= 0 {
		cfg.DestructivePerMin = domain.DestructiveLimitPerMin
	}
	return &Pipeline{
		cfg:      cfg,
		analyzer: NewAnalyzer(metas, logger),
		metas:    metas,
		oracle:   oracle,
		dir:      dir,
		limiter:  limiter,
		logger:   logger.Named("guardrail"),
	}
}

func (p *Pipeline) Analyzer() *Analyzer { return p.analyzer }

func (p *Pipeline) DestructivePerMin() int { return p.cfg.DestructivePerMin }

func reject(r *Rejection) Decision {
	return Decision{Outcome: OutcomeReject, Rejection: r}
}

func actionNames(actions []domain.PlannedAction) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Action
	}
	return strings.Join(names, ", ")
}

// Evaluate прогоняет пакет через все проверки. Ошибка возвращается только при отказе хранилища лимитов.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) (Decision, error) {
	actions := in.Actions
	lang := in.Lang
	if len(actions) == 0 {
		return Decision{Outcome: OutcomeExecute}, nil
	}

	// 1. Кардинальность
	if len(actions) > p.cfg.MaxActions {
		return reject(&Rejection{
			Reason: ReasonActionLimit,
			Message: lang.T(
				fmt.Sprintf("Too many actions requested (%d). Please split the request (max %d).", len(actions), p.cfg.MaxActions),
				fmt.Sprintf("操作数が多すぎます（%d）。最大 %d なので分割してください。", len(actions), p.cfg.MaxActions),
			),
			AuditMessage: fmt.Sprintf("Too many actions requested: %d", len(actions)),
		}), nil
	}

	// 2. Бан-лист: никогда не исполняется, даже с подтверждением
	var forbidden []domain.PlannedAction
	for _, a := range actions {
		if domain.IsBannedAction(a.Action) {
			forbidden = append(forbidden, a)
		}
	}
	if len(forbidden) > 0 {
		names := actionNames(forbidden)
		return reject(&Rejection{
			Reason:       ReasonForbidden,
			Message:      lang.T("This action is forbidden: "+names, "この操作は禁止されています: "+names),
			AuditMessage: "Action forbidden: " + names,
		}), nil
	}

	// 3. Закрытый allow-list
	var notAllowed []domain.PlannedAction
	for _, a := range actions {
		if !domain.IsAllowedAction(a.Action) {
			notAllowed = append(notAllowed, a)
		}
	}
	if len(notAllowed) > 0 {
		names := actionNames(notAllowed)
		return reject(&Rejection{
			Reason:       ReasonNotAllowed,
			Message:      lang.T("Requested action is not allowed: "+names, "許可されていない操作です: "+names),
			AuditMessage: "Action not allowed: " + names,
		}), nil
	}

	// 4. Права бота до любой мутации
	if rej := p.CheckPermissions(ctx, in.GuildID, actions, lang); rej != nil {
		return reject(rej), nil
	}

	// 5. Классификация
	destructive := p.analyzer.SplitDestructive(actions)

	// 6. Лимиты: проверка емкости без списания
	rej, err := p.checkCapacity(ctx, in, len(destructive))
	if err != nil {
		return Decision{}, err
	}
	if rej != nil {
		return reject(rej), nil
	}

	// 7. Сначала наблюдение
	if obs, ok := p.substitute(ctx, in, destructive); ok {
		return Decision{Outcome: OutcomeObserve, Observation: &obs, Actions: actions, Destructive: destructive}, nil
	}

	if len(destructive) > 0 {
		return Decision{Outcome: OutcomeDefer, Actions: actions, Destructive: destructive}, nil
	}
	return Decision{Outcome: OutcomeExecute, Actions: actions}, nil
}

// CheckPermissions преднабор прав. Ошибка оракула трактуется как отказ (fail-closed).
func (p *Pipeline) CheckPermissions(ctx context.Context, guildID string, actions []domain.PlannedAction, lang domain.Language) *Rejection {
	missing, err := MissingPermissions(ctx, p.oracle, p.metas, guildID, actions)
	if err != nil {
		p.logger.Error("permission preflight failed", zap.String("guild_id", guildID), zap.Error(err))
		msg := lang.T("Failed to verify bot permissions. Try again later.", "Botの権限を確認できませんでした。少し待ってから再試行してください。")
		return &Rejection{Reason: ReasonMissingPermissions, Message: msg, AuditMessage: "Bot permission check failed."}
	}
	if len(missing) > 0 {
		msg := MissingPermissionsMessage(missing, lang)
		return &Rejection{Reason: ReasonMissingPermissions, Message: msg, AuditMessage: msg}
	}
	return nil
}

func (p *Pipeline) checkCapacity(ctx context.Context, in Input, destructiveCount int) (*Rejection, error) {
	lang := in.Lang
	limit := in.RateLimitPerMin
	if limit <= 0 {
		limit = domain.DefaultRateLimitPerMin
	}

	remaining, err := p.limiter.Remaining(ctx, in.GuildID, limit)
	if err != nil {
		return nil, fmt.Errorf("guardrail: general bucket: %w", err)
	}
	if len(in.Actions) > remaining {
		return GeneralRateLimited(lang), nil
	}

	if destructiveCount == 0 {
		return nil, nil
	}
	remaining, err = p.limiter.Remaining(ctx, domain.DestructiveBucketKey(in.GuildID), p.cfg.DestructivePerMin)
	if err != nil {
		return nil, fmt.Errorf("guardrail: destructive bucket: %w", err)
	}
	if destructiveCount > remaining {
		return DestructiveRateLimited(lang, p.cfg.DestructivePerMin), nil
	}
	return nil, nil
}

func (p *Pipeline) substitute(ctx context.Context, in Input, destructive []domain.PlannedAction) (domain.PlannedAction, bool) {
	first := in.Actions[0]
	if domain.IsObservationAction(first.Action) {
		return withParams(first), true
	}
	if obs, ok := InferObservation(first, in.UserText); ok {
		return obs, true
	}
	if len(destructive) == 0 {
		return domain.PlannedAction{}, false
	}

	for _, a := range destructive {
		obs, ok, err := AmbiguousTarget(ctx, p.dir, in.GuildID, a)
		if err != nil {
			// Цель не проверить: не рискуем, показываем модели кандидатов
			p.logger.Warn("directory lookup failed, observing instead", zap.String("guild_id", in.GuildID), zap.Error(err))
			return listFor(a), true
		}
		if ok {
			return obs, true
		}
	}
	for _, a := range in.Actions {
		if domain.IsObservationAction(a.Action) {
			return withParams(a), true
		}
	}
	return domain.PlannedAction{}, false
}

func withParams(a domain.PlannedAction) domain.PlannedAction {
	if a.Params == nil {
		a.Params = map[string]any{}
	}
	a.Destructive = false
	return a
}

func listFor(a domain.PlannedAction) domain.PlannedAction {
	if roleTargeted[a.Action] {
		return listRoles()
	}
	return listChannels("any")
}

// GeneralRateLimited отказ по общему бакету гильдии.
func GeneralRateLimited(lang domain.Language) *Rejection {
	return &Rejection{
		Reason:       ReasonRateLimit,
		Message:      lang.T("Rate limit exceeded. Try again later.", "レート制限を超えました。少し待ってから再試行してください。"),
		AuditMessage: "Rate limit exceeded.",
	}
}

// DestructiveRateLimited отказ по бакету разрушительных операций.
func DestructiveRateLimited(lang domain.Language, perMin int) *Rejection {
	return &Rejection{
		Reason: ReasonDestructiveRateLimit,
		Message: lang.T(
			fmt.Sprintf("Destructive action rate limit exceeded (max %d/min). Try again later.", perMin),
			fmt.Sprintf("破壊的操作のレート制限を超えました（上限 %d/分）。少し待ってから再試行してください。", perMin),
		),
		AuditMessage: "Destructive action rate limit exceeded.",
	}
}
