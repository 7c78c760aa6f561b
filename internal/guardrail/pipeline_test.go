package guardrail

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/tools"
	"go.uber.org/zap"
)

const guild = "g1"

type staticOracle struct {
	perms []string
	err   error
}

func (o *staticOracle) EffectivePermissions(context.Context, string, string) ([]string, error) {
	return o.perms, o.err
}

type listDirectory struct {
	channels []domain.Channel
	roles    []domain.Role
}

func (d *listDirectory) ChannelByID(_ context.Context, _, id string) (domain.Channel, bool, error) {
	for _, c := range d.channels {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.Channel{}, false, nil
}

func (d *listDirectory) Channels(context.Context, string) ([]domain.Channel, error) {
	return d.channels, nil
}

func (d *listDirectory) RoleByID(_ context.Context, _, id string) (domain.Role, bool, error) {
	for _, r := range d.roles {
		if r.ID == id {
			return r, true, nil
		}
	}
	return domain.Role{}, false, nil
}

func (d *listDirectory) Roles(context.Context, string) ([]domain.Role, error) {
	return d.roles, nil
}

func (d *listDirectory) MemberByID(context.Context, string, string) (domain.Member, bool, error) {
	return domain.Member{}, false, nil
}

type fixture struct {
	pipeline *Pipeline
	limiter  *ratelimit.MemoryLimiter
	oracle   *staticOracle
	dir      *listDirectory
}

func newFixture() *fixture {
	f := &fixture{
		limiter: ratelimit.NewMemoryLimiter(ratelimit.DefaultWindow),
		oracle:  &staticOracle{perms: []string{PermAdministrator}},
		dir: &listDirectory{
			channels: []domain.Channel{{ID: "100", Name: "general", Type: "text"}},
			roles:    []domain.Role{{ID: "200", Name: "Moderator"}},
		},
	}
	f.pipeline = NewPipeline(Config{}, tools.NewRegistry(), f.oracle, f.dir, f.limiter, zap.NewNop())
	return f
}

func (f *fixture) evaluate(t *testing.T, actions ...domain.PlannedAction) Decision {
	t.Helper()
	d, err := f.pipeline.Evaluate(context.Background(), Input{
		GuildID:         guild,
		Actions:         actions,
		Lang:            domain.LangEN,
		RateLimitPerMin: domain.DefaultRateLimitPerMin,
	})
	require.NoError(t, err)
	return d
}

func act(action string, params map[string]any) domain.PlannedAction {
	if params == nil {
		params = map[string]any{}
	}
	return domain.PlannedAction{Action: action, Params: params}
}

func TestEvaluate_CardinalityLimit(t *testing.T) {
	f := newFixture()
	batch := make([]domain.PlannedAction, 13)
	for i := range batch {
		batch[i] = act(domain.ActionCreateRole, map[string]any{"name": fmt.Sprintf("r%d", i)})
	}

	d := f.evaluate(t, batch...)
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonActionLimit, d.Rejection.Reason)
	assert.Equal(t, "Too many actions requested (13). Please split the request (max 12).", d.Rejection.Message)
}

func TestEvaluate_BannedBeatsEverything(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t,
		act(domain.ActionCreateRole, map[string]any{"name": "x"}),
		act(domain.ActionBanMember, map[string]any{"user_id": "1"}),
	)
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonForbidden, d.Rejection.Reason)
	assert.Equal(t, "This action is forbidden: ban_member", d.Rejection.Message)
}

func TestEvaluate_UnknownActionNotAllowed(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t, act("archive_everything", nil))
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonNotAllowed, d.Rejection.Reason)
	assert.Equal(t, "Requested action is not allowed: archive_everything", d.Rejection.Message)
}

func TestEvaluate_MissingBotPermissions(t *testing.T) {
	f := newFixture()
	f.oracle.perms = []string{tools.PermViewChannel}

	d := f.evaluate(t, act(domain.ActionUpdateOverwrites, map[string]any{"channel_id": "100", "role_id": "200"}))
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonMissingPermissions, d.Rejection.Reason)
	assert.Equal(t, "Missing bot permissions: ManageRoles, ManageChannels", d.Rejection.Message)
}

func TestEvaluate_OracleFailureFailsClosed(t *testing.T) {
	f := newFixture()
	f.oracle.err = errors.New("platform unavailable")

	d := f.evaluate(t, act(domain.ActionCreateChannel, map[string]any{"name": "lobby"}))
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonMissingPermissions, d.Rejection.Reason)
}

func TestEvaluate_DestructiveBucketRejectsWithoutConsuming(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t,
		act(domain.ActionDeleteChannel, map[string]any{"channel_id": "100"}),
		act(domain.ActionDeleteRole, map[string]any{"role_id": "200"}),
		act(domain.ActionRenameChannel, map[string]any{"channel_id": "100", "new_name": "x"}),
	)
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonDestructiveRateLimit, d.Rejection.Reason)
	assert.Equal(t, "Destructive action rate limit exceeded (max 2/min). Try again later.", d.Rejection.Message)

	b, _ := f.limiter.Snapshot(domain.DestructiveBucketKey(guild))
	assert.Zero(t, b.Count)
	g, _ := f.limiter.Snapshot(guild)
	assert.Zero(t, g.Count)
}

func TestEvaluate_GeneralBucketMustCoverBatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < domain.DefaultRateLimitPerMin-1; i++ {
		ok, err := f.limiter.TryConsume(ctx, guild, domain.DefaultRateLimitPerMin)
		require.NoError(t, err)
		require.True(t, ok)
	}

	d := f.evaluate(t,
		act(domain.ActionCreateRole, map[string]any{"name": "a"}),
		act(domain.ActionCreateRole, map[string]any{"name": "b"}),
	)
	require.Equal(t, OutcomeReject, d.Outcome)
	assert.Equal(t, ReasonRateLimit, d.Rejection.Reason)

	b, _ := f.limiter.Snapshot(guild)
	assert.Equal(t, domain.DefaultRateLimitPerMin-1, b.Count)
}

func TestEvaluate_DestructiveByResolvableNameDefers(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t, act(domain.ActionDeleteChannel, map[string]any{"channel_name": "general"}))
	require.Equal(t, OutcomeDefer, d.Outcome)
	require.Len(t, d.Destructive, 1)
	assert.Equal(t, domain.ActionDeleteChannel, d.Destructive[0].Action)
}

func TestEvaluate_AmbiguousNameObservesFirst(t *testing.T) {
	f := newFixture()
	f.dir.channels = append(f.dir.channels, domain.Channel{ID: "101", Name: "general", Type: "voice"})

	d := f.evaluate(t, act(domain.ActionDeleteChannel, map[string]any{"channel_name": "general"}))
	require.Equal(t, OutcomeObserve, d.Outcome)
	assert.Equal(t, domain.ActionListChannels, d.Observation.Action)
}

func TestEvaluate_MissingTargetObservesFirst(t *testing.T) {
	f := newFixture()
	d, err := f.pipeline.Evaluate(context.Background(), Input{
		GuildID:  guild,
		Actions:  []domain.PlannedAction{act(domain.ActionRenameChannel, map[string]any{"new_name": "x"})},
		UserText: "rename the voice room",
		Lang:     domain.LangEN,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeObserve, d.Outcome)
	assert.Equal(t, map[string]any{"type": "voice", "limit": 25}, d.Observation.Params)

	d = f.evaluate(t, act(domain.ActionRemoveRole, map[string]any{"user_id": "1"}))
	require.Equal(t, OutcomeObserve, d.Outcome)
	assert.Equal(t, domain.ActionListRoles, d.Observation.Action)
}

func TestEvaluate_ExplicitObservationInDestructiveBatch(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t,
		act(domain.ActionDeleteRole, map[string]any{"role_id": "200"}),
		act(domain.ActionGetRoleDetails, map[string]any{"role_id": "200"}),
	)
	require.Equal(t, OutcomeObserve, d.Outcome)
	assert.Equal(t, domain.ActionGetRoleDetails, d.Observation.Action)
}

func TestEvaluate_NonDestructiveExecutes(t *testing.T) {
	f := newFixture()
	d := f.evaluate(t,
		act(domain.ActionCreateChannel, map[string]any{"name": "lobby"}),
		act(domain.ActionCreateRole, map[string]any{"name": "Helpers"}),
	)
	assert.Equal(t, OutcomeExecute, d.Outcome)
	assert.Empty(t, d.Destructive)
}

func TestEvaluate_ModelFlagForcesConfirmation(t *testing.T) {
	f := newFixture()
	a := act(domain.ActionCreateChannel, map[string]any{"name": "lobby"})
	a.Destructive = true

	d := f.evaluate(t, a)
	assert.Equal(t, OutcomeDefer, d.Outcome)
}

// Ни один пакет с разрушительным действием не исполняется без подтверждения.
func TestEvaluate_DestructiveNeverExecutes(t *testing.T) {
	names := domain.AllowedActionNames()
	analyzer := NewAnalyzer(tools.NewRegistry(), zap.NewNop())

	for _, a := range names {
		for _, b := range names {
			for _, flag := range []bool{false, true} {
				f := newFixture()
				first := act(a, map[string]any{"channel_id": "100", "role_id": "200", "user_id": "1", "name": "n", "new_name": "m"})
				second := act(b, map[string]any{"channel_id": "100", "role_id": "200", "user_id": "1", "name": "n", "new_name": "m"})
				second.Destructive = flag

				if !analyzer.IsDestructive(first) && !analyzer.IsDestructive(second) {
					continue
				}
				d := f.evaluate(t, first, second)
				assert.NotEqual(t, OutcomeExecute, d.Outcome, "batch [%s %s destructive=%v]", a, b, flag)
			}
		}
	}
}

func TestClassifyRisk(t *testing.T) {
	reg := tools.NewRegistry()
	reg.RegisterTool(tools.Tool{Name: "custom_cleanup", Meta: tools.Meta{Risk: tools.RiskLow}})
	a := NewAnalyzer(reg, zap.NewNop())

	cases := []struct {
		action domain.PlannedAction
		want   tools.Risk
	}{
		{act(domain.ActionListChannels, nil), tools.RiskRead},
		{act(domain.ActionCreateChannel, nil), tools.RiskLow},
		{act(domain.ActionAssignRole, nil), tools.RiskHigh},
		{act(domain.ActionDeleteChannel, nil), tools.RiskDestructive},
		{act(domain.ActionRemoveRole, nil), tools.RiskDestructive},
		{domain.PlannedAction{Action: domain.ActionListRoles, Destructive: true}, tools.RiskDestructive},
		// Мутация вне явного списка: destructive даже при низком риске в метаданных
		{act("custom_cleanup", nil), tools.RiskDestructive},
		{act("no_meta_at_all", nil), tools.RiskDestructive},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, a.ClassifyRisk(tc.action), tc.action.Action)
	}
}
