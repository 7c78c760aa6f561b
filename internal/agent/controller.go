// Package agent — цикл хода: модель предлагает шаг, конвейер проверок решает его судьбу,
// результаты инструментов возвращаются в контекст до терминального шага или исчерпания бюджета.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/ledger"
	"github.com/xela07ax/guildops-agent/internal/memory"
	"github.com/xela07ax/guildops-agent/internal/plan"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

const DefaultMaxSteps = 6

// Outcome описывает, чем закончился ход (метка метрик и поле ответа API).
type Outcome string

const (
	OutcomeIgnored         Outcome = "ignored"
	OutcomeEmpty           Outcome = "empty"
	OutcomePaused          Outcome = "paused"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeRejected        Outcome = "rejected"
	OutcomeDeferred        Outcome = "deferred"
	OutcomeAsked           Outcome = "asked"
	OutcomeFinished        Outcome = "finished"
	OutcomePlanFailed      Outcome = "plan_failed"
	OutcomeToolMissing     Outcome = "tool_missing"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeFailed          Outcome = "failed"
)

// SettingsSource отдает настройки гильдии (значения по умолчанию для неизвестной).
type SettingsSource interface {
	Get(ctx context.Context, guildID string) domain.GuildSettings
}

// GuildFlags операторские флаги гильдии.
type GuildFlags interface {
	IsPaused(guildID string) bool
	IsDryRun(guildID string) bool
}

// Metrics получает то, что контроллер сообщает наружу.
type Metrics interface {
	TurnFinished(outcome string, steps int)
	ActionExecuted(action string, ok bool)
	GuardrailRejected(reason string)
}

type Config struct {
	MaxSteps int
	Context  ContextConfig
}

// Deps коллабораторы контроллера. Flags и Metrics необязательны.
type Deps struct {
	Planner   *plan.Planner
	Guard     *guardrail.Pipeline
	Ledger    *ledger.Service
	Impact    *impact.Resolver
	Invoker   tools.Invoker
	Limiter   ratelimit.Limiter
	Auditor   audit.Auditor
	Memory    *memory.Recorder
	Settings  SettingsSource
	Oracle    guardrail.PermissionOracle
	Directory impact.Directory
	Flags     GuildFlags
	Metrics   Metrics
}

type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

func NewController(cfg Config, deps Deps, logger *zap.Logger) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Context.MaxChars <= 0 {
		cfg.Context.MaxChars = 7000
	}
	if cfg.Context.MinHistory <= 0 {
		cfg.Context.MinHistory = 8
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Controller{cfg: cfg, deps: deps, logger: logger.Named("agent")}
}

// TurnRequest новое сообщение пользователя в треде и история треда до него.
type TurnRequest struct {
	GuildID  string           `json:"guild_id"`
	ThreadID string           `json:"thread_id"`
	ActorID  string           `json:"actor_id"`
	ActorTag string           `json:"actor_tag"`
	Content  string           `json:"content"`
	History  []HistoryMessage `json:"history,omitempty"`
	TraceID  string           `json:"-"`
}

// TurnResult единственный ответ хода. Пустой Reply при OutcomeIgnored: транспорт молчит.
type TurnResult struct {
	Reply          string  `json:"reply,omitempty"`
	ConfirmationID string  `json:"confirmation_id,omitempty"`
	Outcome        Outcome `json:"outcome"`
	Steps          int     `json:"steps"`
}

// turn состояние одного хода.
type turn struct {
	req       TurnRequest
	settings  domain.GuildSettings
	lang      domain.Language
	owner     string
	mode      string
	tc        tools.Context
	messages  []domain.ChatMessage
	summaries []string
	steps     int
	logger    *zap.Logger
}

func (t *turn) result(outcome Outcome, text string) *TurnResult {
	reply := text
	if len(t.summaries) > 0 {
		reply = strings.Join(t.summaries, "\n") + "\n" + text
	}
	return &TurnResult{Reply: reply, Outcome: outcome, Steps: t.steps}
}

func (t *turn) fallback() string {
	return t.lang.T(
		"I couldn't complete that. Please clarify what you want to do.",
		"うまく処理できませんでした。やりたいことをもう少し具体的に教えてください。",
	)
}

func rateLimitedText(lang domain.Language) string {
	return lang.T("Rate limit exceeded. Try again later.", "レート制限を超えました。少し待ってから再試行してください。")
}

// RunTurn проводит один ход. Ошибка возвращается только при отказе журнала подтверждений;
// результат и тогда содержит ответ пользователю.
func (c *Controller) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	res, err := c.runTurn(ctx, req)
	c.deps.Metrics.TurnFinished(string(res.Outcome), res.Steps)
	return res, err
}

func (c *Controller) runTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	settings := c.deps.Settings.Get(ctx, req.GuildID)
	if settings.RateLimitPerMin <= 0 {
		settings.RateLimitPerMin = domain.DefaultRateLimitPerMin
	}
	t := &turn{
		req:      req,
		settings: settings,
		lang:     settings.Language,
		mode:     audit.ModeLive,
		logger: c.logger.With(
			zap.String("guild_id", req.GuildID),
			zap.String("thread_id", req.ThreadID),
			zap.String("actor_id", req.ActorID),
		),
	}
	if c.deps.Flags != nil && c.deps.Flags.IsDryRun(req.GuildID) {
		t.mode = audit.ModeDryRun
	}
	t.tc = tools.Context{GuildID: req.GuildID, ThreadID: req.ThreadID, ActorID: req.ActorID, ActorTag: req.ActorTag, Lang: t.lang}

	if strings.TrimSpace(req.Content) == "" {
		c.notify(t, "message_content_empty", "Message content empty.")
		return *t.result(OutcomeEmpty, t.lang.T(
			"Message content is empty. Ensure Message Content Intent is enabled.",
			"メッセージ内容が空です。Message Content Intent が有効か確認してください。",
		)), nil
	}

	if c.deps.Flags != nil && c.deps.Flags.IsPaused(req.GuildID) {
		t.logger.Info("turn refused: guild paused")
		c.notify(t, "guild_paused", "Guild is paused by an operator.")
		return *t.result(OutcomePaused, t.lang.T(
			"The assistant is paused for this server by an operator.",
			"このサーバーではオペレーターによりアシスタントが一時停止されています。",
		)), nil
	}

	mem, hasMem := c.deps.Memory.Load(ctx, req.ThreadID)
	if !c.authorized(ctx, t, mem, hasMem) {
		t.logger.Debug("message ignored: actor is not the thread owner or a manager")
		return TurnResult{Outcome: OutcomeIgnored}, nil
	}
	t.owner = req.ActorID
	if hasMem && mem.OwnerUserID != "" {
		t.owner = mem.OwnerUserID
	}

	c.deps.Memory.RememberRequest(ctx, req.ThreadID, req.GuildID, t.owner, req.Content, t.lang)

	if !c.hasCapacity(ctx, t) {
		c.notify(t, string(guardrail.ReasonRateLimit), "Rate limit exceeded.")
		return *t.result(OutcomeRateLimited, rateLimitedText(t.lang)), nil
	}

	system := SystemContent(plan.SystemPrompt(t.lang), mem.Summary, t.lang)
	t.messages = BuildContext(system, req.History, t.lang, c.cfg.Context)
	t.messages = append(t.messages, domain.ChatMessage{Role: domain.RoleUser, Content: req.Content})

	if topic, ok := DetectDiagnosticsTopic(req.Content, t.lang); ok {
		if res := c.diagnose(ctx, t, topic); res != nil {
			return *res, nil
		}
	}

	opts := plan.Options{FallbackReply: t.fallback(), AllowTextFallback: true}
	for step := 0; step < c.cfg.MaxSteps; step++ {
		t.steps = step + 1

		s, err := c.deps.Planner.NextStep(ctx, t.messages, opts)
		if err != nil {
			t.logger.Error("planning failed", zap.Int("step", t.steps), zap.Error(err))
			c.notify(t, "llm_plan_failed", "LLM failed to produce a valid plan.")
			return *t.result(OutcomePlanFailed, t.fallback()), nil
		}

		var res *TurnResult
		switch s.Type {
		case domain.StepAsk:
			return *t.result(OutcomeAsked, s.Question), nil
		case domain.StepFinish:
			return *t.result(OutcomeFinished, s.Reply), nil
		case domain.StepObserve:
			a := s.ObservedAction()
			if domain.IsObservationAction(a.Action) {
				res = c.observe(ctx, t, a)
			} else {
				// observe с мутирующим действием проходит полный конвейер
				res, err = c.act(ctx, t, domain.Act([]domain.PlannedAction{a}, ""))
			}
		default:
			res, err = c.act(ctx, t, s)
		}
		if res != nil {
			return *res, err
		}
	}

	t.logger.Warn("step budget exhausted", zap.Int("steps", t.steps))
	return *t.result(OutcomeBudgetExhausted, t.fallback()), nil
}

// authorized: владелец треда или менеджер гильдии (администратор либо держатель роли менеджера).
func (c *Controller) authorized(ctx context.Context, t *turn, mem domain.ThreadMemory, hasMem bool) bool {
	if hasMem && mem.OwnerUserID == t.req.ActorID {
		return true
	}
	perms, err := c.deps.Oracle.EffectivePermissions(ctx, t.req.GuildID, t.req.ActorID)
	if err != nil {
		t.logger.Warn("actor permissions unavailable", zap.Error(err))
	}
	for _, p := range perms {
		if p == guardrail.PermAdministrator {
			return true
		}
	}
	roleID := t.settings.ManagerRoleID
	if roleID == "" || c.deps.Directory == nil {
		return false
	}
	member, found, err := c.deps.Directory.MemberByID(ctx, t.req.GuildID, t.req.ActorID)
	if err != nil {
		t.logger.Warn("actor lookup failed", zap.Error(err))
		return false
	}
	return found && member.HasRole(roleID)
}

// hasCapacity сверяет остаток общего бакета без списания.
func (c *Controller) hasCapacity(ctx context.Context, t *turn) bool {
	left, err := c.deps.Limiter.Remaining(ctx, t.req.GuildID, t.settings.RateLimitPerMin)
	if err != nil {
		t.logger.Error("rate limiter unavailable", zap.Error(err))
		return false
	}
	return left > 0
}

// consume списывает n операций из общего бакета разом. Сбой хранилища считается исчерпанием.
func (c *Controller) consume(ctx context.Context, t *turn, n int) bool {
	ok, err := c.deps.Limiter.TryConsumeN(ctx, t.req.GuildID, n, t.settings.RateLimitPerMin)
	if err != nil {
		t.logger.Error("rate limiter unavailable", zap.Error(err))
		return false
	}
	return ok
}

// diagnose предварительный прогон diagnose_guild для обзорных вопросов.
func (c *Controller) diagnose(ctx context.Context, t *turn, topic DiagnosticsTopic) *TurnResult {
	if !c.consume(ctx, t, 1) {
		c.notify(t, string(guardrail.ReasonRateLimit), "Rate limit exceeded.")
		return t.result(OutcomeRateLimited, rateLimitedText(t.lang))
	}
	a := domain.PlannedAction{Action: domain.ActionDiagnoseGuild, Params: map[string]any{"topic": string(topic)}}
	res, err := c.invoke(ctx, t, a)
	if errors.Is(err, tools.ErrToolNotFound) {
		return nil
	}
	if err != nil {
		res = tools.Result{OK: false, Message: "diagnose_guild failed"}
	}
	t.messages = append(t.messages, ToolResultMessage(a, res))
	t.messages = insertAfterSystem(t.messages, diagnosticsHint(t.lang))
	return nil
}

// observe исполняет одно чтение и кладет результат в контекст. nil — ход продолжается.
func (c *Controller) observe(ctx context.Context, t *turn, a domain.PlannedAction) *TurnResult {
	// Отказ по правам емкость не расходует
	if rej := c.deps.Guard.CheckPermissions(ctx, t.req.GuildID, []domain.PlannedAction{a}, t.lang); rej != nil {
		return c.rejected(t, rej)
	}
	if !c.consume(ctx, t, 1) {
		c.notify(t, string(guardrail.ReasonRateLimit), "Rate limit exceeded.")
		return t.result(OutcomeRateLimited, rateLimitedText(t.lang))
	}

	res, err := c.invoke(ctx, t, a)
	if errors.Is(err, tools.ErrToolNotFound) {
		msg := "Tool not implemented: " + a.Action
		c.notify(t, "tool_missing", msg)
		return t.result(OutcomeToolMissing, t.lang.T(msg, "未実装のツールです: "+a.Action))
	}
	t.logger.Debug("observation done", zap.String("action", a.Action), zap.Bool("ok", res.OK))
	t.messages = append(t.messages, ToolResultMessage(a, res))
	return nil
}

// act прогоняет пакет через конвейер и исполняет, откладывает или отклоняет его.
func (c *Controller) act(ctx context.Context, t *turn, s domain.AgentStep) (*TurnResult, error) {
	actions := make([]domain.PlannedAction, 0, len(s.Actions))
	for _, a := range s.Actions {
		if a.Action != "" && a.Action != domain.ActionNone {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		reply := s.Reply
		if strings.TrimSpace(reply) == "" {
			reply = t.fallback()
		}
		return t.result(OutcomeFinished, reply), nil
	}

	d, err := c.deps.Guard.Evaluate(ctx, guardrail.Input{
		GuildID:         t.req.GuildID,
		Actions:         actions,
		UserText:        t.req.Content,
		Lang:            t.lang,
		RateLimitPerMin: t.settings.RateLimitPerMin,
	})
	if err != nil {
		t.logger.Error("guardrail evaluation failed", zap.Error(err))
		return c.rejected(t, guardrail.GeneralRateLimited(t.lang)), nil
	}

	switch d.Outcome {
	case guardrail.OutcomeReject:
		return c.rejected(t, d.Rejection), nil
	case guardrail.OutcomeObserve:
		return c.observe(ctx, t, *d.Observation), nil
	case guardrail.OutcomeDefer:
		return c.deferBatch(ctx, t, s.Reply, d)
	}
	c.execute(ctx, t, d.Actions)
	return nil, nil
}

func (c *Controller) rejected(t *turn, rej *guardrail.Rejection) *TurnResult {
	c.deps.Metrics.GuardrailRejected(string(rej.Reason))
	t.logger.Info("batch rejected", zap.String("reason", string(rej.Reason)))
	c.notify(t, string(rej.Reason), rej.AuditMessage)
	outcome := OutcomeRejected
	if rej.Reason == guardrail.ReasonRateLimit || rej.Reason == guardrail.ReasonDestructiveRateLimit {
		outcome = OutcomeRateLimited
	}
	return t.result(outcome, rej.Message)
}

// deferBatch создает ожидающую запись и завершает ход запросом подтверждения.
func (c *Controller) deferBatch(ctx context.Context, t *turn, preface string, d guardrail.Decision) (*TurnResult, error) {
	imp := c.deps.Impact.ResolveAll(ctx, t.req.GuildID, d.Destructive)
	rec, err := c.deps.Ledger.Defer(ctx, ledger.DeferRequest{
		GuildID:  t.req.GuildID,
		ThreadID: t.req.ThreadID,
		ActorID:  t.req.ActorID,
		ActorTag: t.req.ActorTag,
		RawText:  t.req.Content,
		Actions:  d.Actions,
		Impact:   imp,
		Summary:  SummarizeActions(d.Actions, t.lang),
		TraceID:  t.req.TraceID,
	})
	if err != nil {
		t.logger.Error("confirmation record not created", zap.Error(err))
		res := t.result(OutcomeFailed, t.lang.T("Failed to save the request. Try again later.", "リクエストを保存できませんでした。少し待ってから再試行してください。"))
		return res, fmt.Errorf("agent: defer batch: %w", err)
	}

	return &TurnResult{
		Reply:          ConfirmationMessage(t.lang, preface, d.Actions, imp),
		ConfirmationID: rec.ID,
		Outcome:        OutcomeDeferred,
		Steps:          t.steps,
	}, nil
}

// execute исполняет неразрушительный пакет по одному действию. Сбой одного действия
// не отменяет остальные. Емкость резервируется на весь пакет сразу: если ее не хватает,
// не исполняется ни одно действие.
func (c *Controller) execute(ctx context.Context, t *turn, actions []domain.PlannedAction) {
	results := make([]domain.ActionResult, 0, len(actions))
	executed := make([]domain.PlannedAction, 0, len(actions))

	if !c.consume(ctx, t, len(actions)) {
		results = append(results, domain.ActionResult{Action: actions[0].Action, Message: t.lang.T("Rate limit exceeded.", "レート制限を超えました。")})
		executed = append(executed, actions[0])
		c.notify(t, string(guardrail.ReasonRateLimit), "Rate limit exceeded.")
		actions = nil
	}

	for _, a := range actions {
		res, err := c.invoke(ctx, t, a)
		executed = append(executed, a)
		if errors.Is(err, tools.ErrToolNotFound) {
			results = append(results, domain.ActionResult{Action: a.Action, Message: t.lang.T("Tool not implemented.", "未実装のツールです。")})
			c.notify(t, "tool_missing", "Tool not implemented: "+a.Action)
			continue
		}
		if err != nil {
			c.notify(t, "tool_execution_failed", "Tool execution failed: "+a.Action)
		}

		r := domain.ActionResult{Action: a.Action, OK: res.OK, Message: res.Message, EntityIDs: res.EntityIDs, Data: res.Data}
		results = append(results, r)
		c.deps.Metrics.ActionExecuted(a.Action, r.OK)

		if !r.OK {
			if _, err := c.deps.Ledger.RecordFailure(ctx, ledger.FailureRequest{
				GuildID:  t.req.GuildID,
				ThreadID: t.req.ThreadID,
				ActorID:  t.req.ActorID,
				RawText:  t.req.Content,
				Action:   a,
				Result:   r,
			}); err != nil {
				t.logger.Error("failure record not created", zap.String("action", a.Action), zap.Error(err))
			}
		}
		status := domain.RecordSuccess
		if !r.OK {
			status = domain.RecordFailure
		}
		c.emit(t, a.Action, status, r.Message)
	}

	if len(results) > 0 {
		t.summaries = append(t.summaries, ledger.SummaryLines(results, t.lang))
	}
	c.deps.Memory.RememberOutcomes(ctx, t.req.ThreadID, t.req.GuildID, t.owner, results, t.lang)
	for i, r := range results {
		t.messages = append(t.messages, ToolResultMessage(executed[i], tools.Result{OK: r.OK, Message: r.Message}))
	}
}

// invoke вызывает инструмент; ошибка без текста превращается в единообразный отказ.
func (c *Controller) invoke(ctx context.Context, t *turn, a domain.PlannedAction) (tools.Result, error) {
	res, err := c.deps.Invoker.Invoke(ctx, t.tc, a)
	if err != nil {
		if !errors.Is(err, tools.ErrToolNotFound) {
			t.logger.Error("tool execution failed", zap.String("action", a.Action), zap.Error(err))
		}
		res.OK = false
		if res.Message == "" {
			res.Message = t.lang.T("Tool execution failed.", "ツールの実行に失敗しました。")
		}
	}
	return res, err
}

// notify аудит отказа или сбоя, не связанного с записью журнала.
func (c *Controller) notify(t *turn, action, msg string) {
	c.emit(t, action, domain.RecordFailure, msg)
}

func (c *Controller) emit(t *turn, action string, status domain.RecordStatus, msg string) {
	c.deps.Auditor.Log(audit.AuditEvent{
		TraceID:      t.req.TraceID,
		GuildID:      t.req.GuildID,
		ActorID:      t.req.ActorID,
		ActorTag:     t.req.ActorTag,
		Action:       action,
		Status:       string(status),
		Confirmation: string(domain.ConfirmationNone),
		Message:      msg,
		Mode:         t.mode,
	})
}

type nopMetrics struct{}

func (nopMetrics) TurnFinished(string, int)    {}
func (nopMetrics) ActionExecuted(string, bool) {}
func (nopMetrics) GuardrailRejected(string)    {}
