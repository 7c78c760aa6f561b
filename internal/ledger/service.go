// Package ledger — журнал подтверждений: ожидающие разрушительные пакеты, их подтверждение
// или отклонение автором запроса и терминальные записи об ошибках.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/memory"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

// PauseGate отвечает, остановлена ли автоматизация гильдии оператором.
type PauseGate interface {
	IsPaused(guildID string) bool
}

// Service точка входа подтверждений, отдельная от цикла агента.
type Service struct {
	store   Store
	guard   *guardrail.Pipeline
	limiter ratelimit.Limiter
	invoker tools.Invoker
	auditor audit.Auditor
	memory  *memory.Recorder
	paused  PauseGate
	logger  *zap.Logger
}

func NewService(store Store, guard *guardrail.Pipeline, limiter ratelimit.Limiter, invoker tools.Invoker, auditor audit.Auditor, mem *memory.Recorder, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		guard:   guard,
		limiter: limiter,
		invoker: invoker,
		auditor: auditor,
		memory:  mem,
		logger:  logger.Named("ledger"),
	}
}

// WithPauseGate включает проверку паузы: пока гильдия остановлена, подтверждение
// не захватывает запись и ничего не исполняет.
func (s *Service) WithPauseGate(g PauseGate) *Service {
	s.paused = g
	return s
}

// DeferRequest разрушительный пакет, ожидающий решения автора.
type DeferRequest struct {
	GuildID  string
	ThreadID string
	ActorID  string
	ActorTag string
	RawText  string
	Actions  []domain.PlannedAction
	Impact   domain.Impact
	Summary  string // человекочитаемый список действий для аудита
	TraceID  string
}

// ResolveRequest нажатие Accept или Reject.
type ResolveRequest struct {
	RecordID string
	GuildID  string // гильдия, из которой пришло нажатие; пустое значение не сверяется
	ActorID  string
	ActorTag string
	ThreadID string
	Settings domain.GuildSettings
	TraceID  string
	Mode     string // audit.ModeLive или audit.ModeDryRun
}

// Response ответ пользователю. Ephemeral виден только нажавшему.
type Response struct {
	Message   string
	Ephemeral bool
	Record    *domain.ConfirmationRecord
	Decided   bool // этот вызов перевел запись в терминальное состояние
}

// AuditAction имя действия записи: "batch" для нескольких действий.
func AuditAction(actions []domain.PlannedAction) string {
	if len(actions) == 1 {
		return actions[0].Action
	}
	return domain.ActionBatch
}

// Defer создает ожидающую запись.
func (s *Service) Defer(ctx context.Context, req DeferRequest) (*domain.ConfirmationRecord, error) {
	if len(req.Actions) == 0 {
		return nil, errors.New("ledger: defer: empty batch")
	}
	action := AuditAction(req.Actions)
	rec := &domain.ConfirmationRecord{
		ID:      uuid.NewString(),
		Action:  action,
		ActorID: req.ActorID,
		GuildID: req.GuildID,
		Payload: domain.RecordPayload{
			Request: domain.RequestPayload{
				Action:   action,
				Params:   req.Actions[0].Params,
				Actions:  req.Actions,
				RawText:  req.RawText,
				ThreadID: req.ThreadID,
			},
			Impact: req.Impact,
		},
		ConfirmationRequired: true,
		ConfirmationStatus:   domain.ConfirmationPending,
		Status:               domain.RecordPending,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: create pending record: %w", err)
	}

	s.logger.Info("confirmation requested",
		zap.String("record_id", rec.ID),
		zap.String("guild_id", rec.GuildID),
		zap.String("action", action),
		zap.Int("actions", len(req.Actions)),
	)
	s.auditor.Log(audit.AuditEvent{
		TraceID:      req.TraceID,
		RecordID:     rec.ID,
		GuildID:      rec.GuildID,
		ActorID:      req.ActorID,
		ActorTag:     req.ActorTag,
		Action:       action,
		Status:       string(domain.RecordPending),
		Confirmation: string(domain.ConfirmationPending),
		Message:      req.Summary,
	})
	return rec, nil
}

// FailureRequest неудачное прямое исполнение неразрушительного действия.
type FailureRequest struct {
	GuildID  string
	ThreadID string
	ActorID  string
	RawText  string
	Action   domain.PlannedAction
	Result   domain.ActionResult
}

// RecordFailure пишет терминальную запись без подтверждения.
func (s *Service) RecordFailure(ctx context.Context, req FailureRequest) (*domain.ConfirmationRecord, error) {
	msg := req.Result.Message
	rec := &domain.ConfirmationRecord{
		ID:      uuid.NewString(),
		Action:  req.Action.Action,
		ActorID: req.ActorID,
		GuildID: req.GuildID,
		Payload: domain.RecordPayload{
			Request: domain.RequestPayload{
				Action:   req.Action.Action,
				Params:   req.Action.Params,
				RawText:  req.RawText,
				ThreadID: req.ThreadID,
			},
			Result: &domain.ResultPayload{OK: false, Message: msg, EntityIDs: req.Result.EntityIDs},
		},
		ConfirmationRequired: false,
		ConfirmationStatus:   domain.ConfirmationNone,
		Status:               domain.RecordFailure,
		ErrorMessage:         &msg,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: create failure record: %w", err)
	}
	return rec, nil
}

func notFound(lang domain.Language) Response {
	return Response{Message: lang.T("Audit record not found.", "監査レコードが見つかりませんでした。"), Ephemeral: true}
}

func notAuthorized(lang domain.Language) Response {
	return Response{Message: lang.T("Not authorized to confirm this action.", "この操作を承認できません（依頼者のみ承認可能です）。"), Ephemeral: true}
}

func alreadyResolved(lang domain.Language, rec *domain.ConfirmationRecord) Response {
	return Response{Message: lang.T("This request is already resolved.", "このリクエストはすでに処理済みです。"), Ephemeral: true, Record: rec}
}

// load выполняет общие проверки. Владелец проверяется раньше статуса:
// чужой пользователь не узнает, в каком состоянии запись.
func (s *Service) load(ctx context.Context, req ResolveRequest) (*domain.ConfirmationRecord, *Response, error) {
	lang := req.Settings.Language
	rec, err := s.store.Get(ctx, req.RecordID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		r := notFound(lang)
		return nil, &r, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: load record %s: %w", req.RecordID, err)
	}
	// Запись чужой гильдии неотличима от отсутствующей
	if req.GuildID != "" && rec.GuildID != req.GuildID {
		s.logger.Warn("confirmation attempt from another guild",
			zap.String("record_id", rec.ID),
			zap.String("guild_id", req.GuildID),
		)
		r := notFound(lang)
		return nil, &r, nil
	}
	if !rec.IsOwnedBy(req.ActorID, req.ThreadID) {
		s.logger.Warn("confirmation attempt by non-owner",
			zap.String("record_id", rec.ID),
			zap.String("actor_id", req.ActorID),
		)
		r := notAuthorized(lang)
		return nil, &r, nil
	}
	if err := rec.CanTransitionTo(domain.ConfirmationApproved); err != nil {
		r := alreadyResolved(lang, rec)
		return nil, &r, nil
	}
	return rec, nil, nil
}

// Reject отменяет ожидающую запись. Ничего не исполняется.
func (s *Service) Reject(ctx context.Context, req ResolveRequest) (Response, error) {
	lang := req.Settings.Language
	rec, early, err := s.load(ctx, req)
	if err != nil || early != nil {
		return deref(early), err
	}

	msg := "Rejected"
	updated, err := s.store.Transition(ctx, rec.ID, domain.Transition{
		FromConfirmation: domain.ConfirmationPending,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationRejected,
		Status:           domain.RecordFailure,
		ErrorMessage:     &msg,
	})
	if errors.Is(err, domain.ErrAlreadyResolved) {
		return alreadyResolved(lang, rec), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("ledger: reject %s: %w", rec.ID, err)
	}

	s.logger.Info("confirmation rejected", zap.String("record_id", rec.ID), zap.String("guild_id", rec.GuildID))
	s.auditor.Log(audit.AuditEvent{
		TraceID:      req.TraceID,
		RecordID:     rec.ID,
		GuildID:      rec.GuildID,
		ActorID:      req.ActorID,
		ActorTag:     req.ActorTag,
		Action:       rec.Action,
		Status:       string(domain.RecordFailure),
		Confirmation: string(domain.ConfirmationRejected),
		Message:      "Rejected by user",
		Mode:         req.Mode,
	})
	return Response{Message: lang.T("Rejected.", "却下しました。"), Record: updated, Decided: true}, nil
}

// Confirm захватывает запись (pending -> approved), перепроверяет права бота,
// исполняет действия по одному с учетом лимитов и фиксирует итог.
func (s *Service) Confirm(ctx context.Context, req ResolveRequest) (Response, error) {
	lang := req.Settings.Language
	rec, early, err := s.load(ctx, req)
	if err != nil || early != nil {
		return deref(early), err
	}

	// Пауза блокирует исполнение, а не только прием новых ходов. Запись остается pending
	if s.paused != nil && s.paused.IsPaused(rec.GuildID) {
		s.logger.Info("confirmation held: guild paused", zap.String("record_id", rec.ID), zap.String("guild_id", rec.GuildID))
		s.auditor.Log(audit.AuditEvent{
			TraceID:      req.TraceID,
			RecordID:     rec.ID,
			GuildID:      rec.GuildID,
			ActorID:      req.ActorID,
			ActorTag:     req.ActorTag,
			Action:       "guild_paused",
			Status:       string(domain.RecordPending),
			Confirmation: string(rec.ConfirmationStatus),
			Message:      "Confirmation held: guild is paused by an operator.",
			Mode:         req.Mode,
		})
		return Response{
			Message: lang.T(
				"The assistant is paused for this server by an operator. Nothing was executed; try again after it is resumed.",
				"このサーバーではオペレーターによりアシスタントが一時停止されています。何も実行されていません。再開後にもう一度お試しください。",
			),
			Ephemeral: true,
			Record:    rec,
		}, nil
	}

	actions := rec.PlannedActions()
	if len(actions) == 0 {
		return Response{Message: lang.T("No actions to execute.", "実行する操作がありません。"), Ephemeral: true, Record: rec}, nil
	}

	// 1. Захват: второй параллельный Confirm получит ErrAlreadyResolved
	claimed, err := s.store.Transition(ctx, rec.ID, domain.Transition{
		FromConfirmation: domain.ConfirmationPending,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationApproved,
		Status:           domain.RecordPending,
	})
	if errors.Is(err, domain.ErrAlreadyResolved) {
		return alreadyResolved(lang, rec), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("ledger: claim %s: %w", rec.ID, err)
	}

	// 2. Права могли измениться с момента создания записи
	if rej := s.guard.CheckPermissions(ctx, claimed.GuildID, actions, lang); rej != nil {
		final, err := s.finalize(ctx, claimed, domain.RecordFailure, &rej.Message, nil)
		if err != nil {
			return Response{}, err
		}
		s.emit(final, req, rej.Message)
		return Response{Message: rej.Message, Ephemeral: true, Record: final, Decided: true}, nil
	}

	// 3. Исполнение
	results := s.execute(ctx, claimed, actions, req)

	okAll := true
	var ids []string
	for _, r := range results {
		okAll = okAll && r.OK
		ids = append(ids, r.EntityIDs...)
	}
	summary := SummaryLines(results, lang)

	if s.memory != nil {
		threadID := claimed.Payload.Request.ThreadID
		if threadID == "" {
			threadID = req.ThreadID
		}
		s.memory.RememberOutcomes(ctx, threadID, claimed.GuildID, claimed.ActorID, results, lang)
	}

	// 4. Фиксация итога
	status := domain.RecordSuccess
	var errMsg *string
	if !okAll {
		status = domain.RecordFailure
		m := "One or more actions failed."
		errMsg = &m
	}
	final, err := s.finalize(ctx, claimed, status, errMsg, &domain.ResultPayload{OK: okAll, Message: summary, EntityIDs: ids})
	if err != nil {
		return Response{}, err
	}
	s.emit(final, req, summary)

	if okAll {
		return Response{Message: lang.T("Done:\n"+summary, "完了:\n"+summary), Record: final, Decided: true}, nil
	}
	return Response{Message: lang.T("Failed:\n"+summary, "失敗:\n"+summary), Record: final, Decided: true}, nil
}

func (s *Service) finalize(ctx context.Context, rec *domain.ConfirmationRecord, status domain.RecordStatus, errMsg *string, result *domain.ResultPayload) (*domain.ConfirmationRecord, error) {
	final, err := s.store.Transition(ctx, rec.ID, domain.Transition{
		FromConfirmation: domain.ConfirmationApproved,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationApproved,
		Status:           status,
		ErrorMessage:     errMsg,
		Result:           result,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: finalize %s: %w", rec.ID, err)
	}
	s.logger.Info("confirmation resolved",
		zap.String("record_id", rec.ID),
		zap.String("guild_id", rec.GuildID),
		zap.String("status", string(status)),
	)
	return final, nil
}

func (s *Service) emit(rec *domain.ConfirmationRecord, req ResolveRequest, msg string) {
	s.auditor.Log(audit.AuditEvent{
		TraceID:      req.TraceID,
		RecordID:     rec.ID,
		GuildID:      rec.GuildID,
		ActorID:      rec.ActorID,
		ActorTag:     req.ActorTag,
		Action:       rec.Action,
		Status:       string(rec.Status),
		Confirmation: string(rec.ConfirmationStatus),
		Message:      msg,
		Mode:         req.Mode,
	})
}

// execute исполняет действия по одному. Емкость обоих бакетов резервируется
// на весь пакет до первого вызова: пакет либо исполняется, либо не начинается.
func (s *Service) execute(ctx context.Context, rec *domain.ConfirmationRecord, actions []domain.PlannedAction, req ResolveRequest) []domain.ActionResult {
	lang := req.Settings.Language
	limit := req.Settings.RateLimitPerMin
	if limit <= 0 {
		limit = domain.DefaultRateLimitPerMin
	}
	tc := tools.Context{
		GuildID:  rec.GuildID,
		ThreadID: rec.Payload.Request.ThreadID,
		ActorID:  req.ActorID,
		ActorTag: req.ActorTag,
		Lang:     lang,
	}
	perMin := s.guard.DestructivePerMin()
	if len(actions) == 0 {
		return nil
	}

	// Сначала меньший деструктивный бакет. Если после него откажет общий,
	// списанные деструктивные единицы не возвращаются (fail-closed).
	destructive := len(s.guard.Analyzer().SplitDestructive(actions))
	if destructive > 0 && !s.consume(ctx, domain.DestructiveBucketKey(rec.GuildID), destructive, perMin) {
		return []domain.ActionResult{{
			Action: actions[0].Action,
			Message: lang.T(
				fmt.Sprintf("Destructive action rate limit exceeded (max %d/min).", perMin),
				fmt.Sprintf("破壊的操作のレート制限を超えました（上限 %d/分）。", perMin),
			),
		}}
	}
	if !s.consume(ctx, rec.GuildID, len(actions), limit) {
		return []domain.ActionResult{{Action: actions[0].Action, Message: lang.T("Rate limit exceeded.", "レート制限を超えました。")}}
	}

	results := make([]domain.ActionResult, 0, len(actions))
	for _, a := range actions {
		res, err := s.invoker.Invoke(ctx, tc, a)
		if err != nil {
			s.logger.Error("tool execution failed",
				zap.String("record_id", rec.ID),
				zap.String("action", a.Action),
				zap.Error(err),
			)
		}
		results = append(results, domain.ActionResult{Action: a.Action, OK: res.OK, Message: res.Message, EntityIDs: res.EntityIDs, Data: res.Data})
	}
	return results
}

// consume: сбой хранилища лимитов трактуется как исчерпанный лимит.
func (s *Service) consume(ctx context.Context, key string, n, limit int) bool {
	ok, err := s.limiter.TryConsumeN(ctx, key, n, limit)
	if err != nil {
		s.logger.Error("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// Get и List нужны консоли.
func (s *Service) Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error) {
	return s.store.List(ctx, f)
}

// Purge удаляет записи старше срока хранения.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = domain.DefaultAuditRetentionDays * 24 * time.Hour
	}
	n, err := s.store.Purge(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("ledger: purge: %w", err)
	}
	if n > 0 {
		s.logger.Info("ledger purged", zap.Int64("records", n), zap.Duration("retention", retention))
	}
	return n, nil
}

// SummaryLines формирует строки "• action: OK - message", по одной на действие.
func SummaryLines(results []domain.ActionResult, lang domain.Language) string {
	okText := lang.T("OK", "成功")
	failText := lang.T("Failed", "失敗")
	lines := make([]string, 0, len(results))
	for _, r := range results {
		status := failText
		if r.OK {
			status = okText
		}
		lines = append(lines, fmt.Sprintf("• %s: %s - %s", r.Action, status, r.Message))
	}
	return strings.Join(lines, "\n")
}

func deref(r *Response) Response {
	if r == nil {
		return Response{}
	}
	return *r
}
