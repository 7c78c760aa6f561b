package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/memory"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

const (
	guildID  = "g1"
	ownerID  = "u-owner"
	threadID = "t-1"
)

type permsOracle struct {
	mu    sync.Mutex
	perms []string
}

func (o *permsOracle) set(perms ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.perms = perms
}

func (o *permsOracle) EffectivePermissions(context.Context, string, string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.perms, nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *recordingAuditor) Log(e audit.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) last() audit.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type harness struct {
	svc     *Service
	store   *InMemoryStore
	oracle  *permsOracle
	auditor *recordingAuditor
	mem     *memory.InMemoryStore
	limiter *ratelimit.MemoryLimiter
	calls   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   NewInMemoryStore(),
		oracle:  &permsOracle{perms: []string{guardrail.PermAdministrator}},
		auditor: &recordingAuditor{},
		mem:     memory.NewInMemoryStore(),
	}
	reg := tools.NewRegistry()
	deleted := func(ctx context.Context, tc tools.Context, params map[string]any) (tools.Result, error) {
		h.calls.Add(1)
		return tools.Result{OK: true, Message: "Deleted", EntityIDs: []string{"100"}}, nil
	}
	reg.Register(domain.ActionDeleteChannel, deleted)
	reg.Register(domain.ActionDeleteRole, deleted)
	reg.Register(domain.ActionCreateRole, func(ctx context.Context, tc tools.Context, params map[string]any) (tools.Result, error) {
		h.calls.Add(1)
		return tools.Result{OK: true, Message: "Role created"}, nil
	})
	reg.Register(domain.ActionRenameChannel, func(ctx context.Context, tc tools.Context, params map[string]any) (tools.Result, error) {
		h.calls.Add(1)
		panic("boom")
	})

	h.limiter = ratelimit.NewMemoryLimiter(time.Minute)
	log := zap.NewNop()
	guard := guardrail.NewPipeline(guardrail.Config{}, reg, h.oracle, nil, h.limiter, log)
	h.svc = NewService(h.store, guard, h.limiter, reg, h.auditor, memory.NewRecorder(h.mem, log), log)
	return h
}

func (h *harness) deferBatch(t *testing.T, actions ...domain.PlannedAction) *domain.ConfirmationRecord {
	t.Helper()
	rec, err := h.svc.Defer(context.Background(), DeferRequest{
		GuildID:  guildID,
		ThreadID: threadID,
		ActorID:  ownerID,
		ActorTag: "owner#0001",
		RawText:  "clean up",
		Actions:  actions,
		Impact:   domain.Impact{Channels: []string{"#general (100)"}},
		Summary:  "• Delete channel #general",
	})
	require.NoError(t, err)
	return rec
}

func owner(recID string) ResolveRequest {
	return ResolveRequest{RecordID: recID, ActorID: ownerID, ActorTag: "owner#0001", ThreadID: threadID, Settings: domain.DefaultGuildSettings(guildID)}
}

func deleteGeneral() domain.PlannedAction {
	return domain.PlannedAction{Action: domain.ActionDeleteChannel, Params: map[string]any{"channel_name": "general"}}
}

func TestDefer_CreatesPendingRecord(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, deleteGeneral())

	stored, err := h.store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationPending, stored.ConfirmationStatus)
	assert.Equal(t, domain.RecordPending, stored.Status)
	assert.True(t, stored.ConfirmationRequired)
	assert.Equal(t, domain.ActionDeleteChannel, stored.Action)
	assert.Equal(t, threadID, stored.Payload.Request.ThreadID)

	ev := h.auditor.last()
	assert.Equal(t, "pending", ev.Status)
	assert.Equal(t, "pending", ev.Confirmation)
}

func TestDefer_BatchAction(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, deleteGeneral(), domain.PlannedAction{Action: domain.ActionDeleteRole, Params: map[string]any{"role_id": "200"}})
	assert.Equal(t, domain.ActionBatch, rec.Action)
}

func TestReject_ByOwner(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, deleteGeneral())

	resp, err := h.svc.Reject(context.Background(), owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Rejected.", resp.Message)
	assert.False(t, resp.Ephemeral)

	stored, _ := h.store.Get(context.Background(), rec.ID)
	assert.Equal(t, domain.ConfirmationRejected, stored.ConfirmationStatus)
	assert.Equal(t, domain.RecordFailure, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "Rejected", *stored.ErrorMessage)
	assert.Zero(t, h.calls.Load())
	assert.Equal(t, "rejected", h.auditor.last().Confirmation)
}

func TestConfirm_NonOwnerIsRejected(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, deleteGeneral())
	ctx := context.Background()

	other := owner(rec.ID)
	other.ActorID = "u-other"
	resp, err := h.svc.Confirm(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "Not authorized to confirm this action.", resp.Message)
	assert.True(t, resp.Ephemeral)

	// Тот же автор, но из другого треда
	wrongThread := owner(rec.ID)
	wrongThread.ThreadID = "t-2"
	resp, err = h.svc.Reject(ctx, wrongThread)
	require.NoError(t, err)
	assert.Equal(t, "Not authorized to confirm this action.", resp.Message)

	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.ConfirmationPending, stored.ConfirmationStatus)
	assert.Equal(t, domain.RecordPending, stored.Status)
	assert.Zero(t, h.calls.Load())
}

func TestResolve_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())

	_, err := h.svc.Reject(ctx, owner(rec.ID))
	require.NoError(t, err)
	before, _ := h.store.Get(ctx, rec.ID)

	for _, call := range []func(context.Context, ResolveRequest) (Response, error){h.svc.Confirm, h.svc.Reject} {
		resp, err := call(ctx, owner(rec.ID))
		require.NoError(t, err)
		assert.Equal(t, "This request is already resolved.", resp.Message)
		assert.True(t, resp.Ephemeral)
	}

	after, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, before, after)
	assert.Zero(t, h.calls.Load())
}

func TestConfirm_NonOwnerCannotProbeResolvedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())
	_, err := h.svc.Reject(ctx, owner(rec.ID))
	require.NoError(t, err)

	other := owner(rec.ID)
	other.ActorID = "u-other"
	resp, err := h.svc.Confirm(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "Not authorized to confirm this action.", resp.Message)
}

func TestConfirm_Executes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral(), domain.PlannedAction{Action: domain.ActionCreateRole, Params: map[string]any{"name": "Archive"}})

	resp, err := h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Done:\n• delete_channel: OK - Deleted\n• create_role: OK - Role created", resp.Message)
	assert.EqualValues(t, 2, h.calls.Load())

	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.ConfirmationApproved, stored.ConfirmationStatus)
	assert.Equal(t, domain.RecordSuccess, stored.Status)
	require.NotNil(t, stored.Payload.Result)
	assert.True(t, stored.Payload.Result.OK)
	assert.Equal(t, []string{"100"}, stored.Payload.Result.EntityIDs)
	assert.Equal(t, "success", h.auditor.last().Status)

	m, ok, _ := h.mem.Get(ctx, threadID)
	require.True(t, ok)
	assert.Contains(t, m.Summary, "delete_channel: OK ids=100 Deleted")
}

func TestConfirm_PermissionsRecheckedAtConfirmTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())
	h.oracle.set(tools.PermViewChannel)

	resp, err := h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Missing bot permissions: ManageChannels", resp.Message)
	assert.True(t, resp.Ephemeral)
	assert.Zero(t, h.calls.Load())

	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.ConfirmationApproved, stored.ConfirmationStatus)
	assert.Equal(t, domain.RecordFailure, stored.Status)
	assert.Equal(t, "Missing bot permissions: ManageChannels", *stored.ErrorMessage)
}

func TestConfirm_BatchOverDestructiveBudgetDoesNotStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	del := func(id string) domain.PlannedAction {
		return domain.PlannedAction{Action: domain.ActionDeleteChannel, Params: map[string]any{"channel_id": id}}
	}
	rec := h.deferBatch(t, del("1"), del("2"), del("3"), del("4"))

	resp, err := h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Failed:\n• delete_channel: Failed - Destructive action rate limit exceeded (max 2/min).", resp.Message)
	assert.Zero(t, h.calls.Load(), "no action of an over-budget batch runs")

	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.RecordFailure, stored.Status)
	assert.Equal(t, "One or more actions failed.", *stored.ErrorMessage)

	rem, _ := h.limiter.Remaining(ctx, domain.DestructiveBucketKey(guildID), 2)
	assert.Equal(t, 2, rem, "a refused batch leaves the destructive bucket untouched")
}

func TestConfirm_GeneralBucketIsReservedForWholeBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	limit := domain.DefaultRateLimitPerMin
	rec := h.deferBatch(t, deleteGeneral(), domain.PlannedAction{Action: domain.ActionCreateRole, Params: map[string]any{"name": "Archive"}})

	// Параллельный ход забрал емкость между показом кнопки и нажатием.
	ok, err := h.limiter.TryConsumeN(ctx, guildID, limit-1, limit)
	require.NoError(t, err)
	require.True(t, ok)

	resp, err := h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Failed:\n• delete_channel: Failed - Rate limit exceeded.", resp.Message)
	assert.Zero(t, h.calls.Load(), "one slot left is not enough for a two-action batch")

	rem, _ := h.limiter.Remaining(ctx, guildID, limit)
	assert.Equal(t, 1, rem)
}

func TestConfirm_ToolPanicIsReported(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, domain.PlannedAction{Action: domain.ActionRenameChannel, Params: map[string]any{"channel_id": "100", "new_name": "x"}})

	resp, err := h.svc.Confirm(context.Background(), owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "Failed:\n• rename_channel: Failed - Tool execution failed.", resp.Message)
}

func TestConfirm_ConcurrentClicksExecuteOnce(t *testing.T) {
	h := newHarness(t)
	rec := h.deferBatch(t, deleteGeneral())

	var wg sync.WaitGroup
	var done atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.svc.Confirm(context.Background(), owner(rec.ID))
			assert.NoError(t, err)
			if !resp.Ephemeral {
				done.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, h.calls.Load())
	assert.EqualValues(t, 1, done.Load())
}

func TestConfirm_NotFound(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Confirm(context.Background(), owner("missing"))
	require.NoError(t, err)
	assert.Equal(t, "Audit record not found.", resp.Message)
	assert.True(t, resp.Ephemeral)
}

func TestRecordFailure_IsTerminal(t *testing.T) {
	h := newHarness(t)
	rec, err := h.svc.RecordFailure(context.Background(), FailureRequest{
		GuildID:  guildID,
		ThreadID: threadID,
		ActorID:  ownerID,
		Action:   domain.PlannedAction{Action: domain.ActionCreateRole, Params: map[string]any{"name": "x"}},
		Result:   domain.ActionResult{Action: domain.ActionCreateRole, Message: "Missing Access"},
	})
	require.NoError(t, err)
	assert.False(t, rec.ConfirmationRequired)
	assert.Equal(t, domain.ConfirmationNone, rec.ConfirmationStatus)
	assert.Equal(t, domain.RecordFailure, rec.Status)
	assert.True(t, rec.IsTerminal())

	resp, err := h.svc.Confirm(context.Background(), owner(rec.ID))
	require.NoError(t, err)
	assert.Equal(t, "This request is already resolved.", resp.Message)
}

func TestPurge_DropsOldRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.deferBatch(t, deleteGeneral())

	h.store.now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	stale := &domain.ConfirmationRecord{ID: "stale", GuildID: guildID, ConfirmationStatus: domain.ConfirmationNone, Status: domain.RecordFailure}
	require.NoError(t, h.store.Create(ctx, stale))

	n, err := h.svc.Purge(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.store.Get(ctx, old.ID)
	assert.NoError(t, err)
	_, err = h.store.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

type pauseSwitch struct {
	mu     sync.Mutex
	guilds map[string]bool
}

func (p *pauseSwitch) set(guild string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.guilds == nil {
		p.guilds = map[string]bool{}
	}
	p.guilds[guild] = on
}

func (p *pauseSwitch) IsPaused(guild string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.guilds[guild]
}

func TestConfirm_HeldWhileGuildPaused(t *testing.T) {
	h := newHarness(t)
	pause := &pauseSwitch{}
	h.svc.WithPauseGate(pause)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())

	pause.set(guildID, true)
	resp, err := h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "paused")
	assert.True(t, resp.Ephemeral)
	assert.False(t, resp.Decided)
	assert.Zero(t, h.calls.Load())

	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.ConfirmationPending, stored.ConfirmationStatus, "the record is not claimed")
	assert.Equal(t, domain.RecordPending, stored.Status)

	pause.set(guildID, false)
	resp, err = h.svc.Confirm(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.True(t, resp.Decided)
	assert.EqualValues(t, 1, h.calls.Load())
}

func TestConfirm_RejectStillAllowedWhilePaused(t *testing.T) {
	h := newHarness(t)
	pause := &pauseSwitch{}
	h.svc.WithPauseGate(pause)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())
	pause.set(guildID, true)

	resp, err := h.svc.Reject(ctx, owner(rec.ID))
	require.NoError(t, err)
	assert.True(t, resp.Decided)
	assert.Zero(t, h.calls.Load())
}

func TestResolve_RecordOfAnotherGuildLooksMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.deferBatch(t, deleteGeneral())

	req := owner(rec.ID)
	req.GuildID = "other-guild"
	for _, call := range []func(context.Context, ResolveRequest) (Response, error){h.svc.Confirm, h.svc.Reject} {
		resp, err := call(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "Audit record not found.", resp.Message)
		assert.True(t, resp.Ephemeral)
	}
	assert.Zero(t, h.calls.Load())
	stored, _ := h.store.Get(ctx, rec.ID)
	assert.Equal(t, domain.ConfirmationPending, stored.ConfirmationStatus)

	req.GuildID = guildID
	resp, err := h.svc.Confirm(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Decided)
}

func TestInMemoryStore_ReturnsIndependentCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	rec := &domain.ConfirmationRecord{
		ID:                 "r1",
		GuildID:            guildID,
		ConfirmationStatus: domain.ConfirmationPending,
		Status:             domain.RecordPending,
		Payload: domain.RecordPayload{Request: domain.RequestPayload{
			Params: map[string]any{"channel_id": "100", "nested": map[string]any{"allow": []any{"ViewChannel"}}},
			Actions: []domain.PlannedAction{
				{Action: domain.ActionDeleteChannel, Params: map[string]any{"channel_id": "100"}},
			},
		}},
	}
	require.NoError(t, store.Create(ctx, rec))

	// Вызывающий меняет свой экземпляр после Create.
	rec.Payload.Request.Actions[0].Params["channel_id"] = "999"

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	got.Payload.Request.Params["channel_id"] = "999"
	got.Payload.Request.Params["nested"].(map[string]any)["allow"].([]any)[0] = "Administrator"
	got.Payload.Request.Actions[0].Params["channel_id"] = "999"
	got.Payload.Request.Actions[0].Action = domain.ActionDeleteRole

	claimed, err := store.Transition(ctx, "r1", domain.Transition{
		FromConfirmation: domain.ConfirmationPending,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationApproved,
		Status:           domain.RecordPending,
	})
	require.NoError(t, err)
	claimed.Payload.Request.Actions[0].Params["channel_id"] = "999"

	listed, err := store.List(ctx, domain.ConfirmationFilter{GuildID: guildID})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	listed[0].Payload.Request.Params["channel_id"] = "999"

	fresh, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "100", fresh.Payload.Request.Params["channel_id"])
	assert.Equal(t, []any{"ViewChannel"}, fresh.Payload.Request.Params["nested"].(map[string]any)["allow"])
	assert.Equal(t, domain.PlannedAction{Action: domain.ActionDeleteChannel, Params: map[string]any{"channel_id": "100"}},
		fresh.Payload.Request.Actions[0])
	assert.Equal(t, domain.ConfirmationApproved, fresh.ConfirmationStatus)
}
