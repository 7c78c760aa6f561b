package connectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

func mockRegistry() (*MockPlatform, *tools.Registry) {
	m := NewMockPlatform()
	reg := tools.NewRegistry()
	m.Register(reg)
	return m, reg
}

func run(t *testing.T, reg *tools.Registry, action string, params map[string]any) tools.Result {
	t.Helper()
	res, err := reg.Invoke(context.Background(), toolCtx(), domain.PlannedAction{Action: action, Params: params})
	require.NoError(t, err)
	return res
}

func TestMockPlatform_RegistersWholeCatalog(t *testing.T) {
	_, reg := mockRegistry()
	for _, name := range domain.AllowedActionNames() {
		if name == domain.ActionNone {
			continue
		}
		_, ok := reg.Lookup(name)
		assert.True(t, ok, name)
	}
}

func TestMockPlatform_ChannelLifecycle(t *testing.T) {
	m, reg := mockRegistry()
	ctx := context.Background()

	created := run(t, reg, domain.ActionCreateChannel, map[string]any{"name": "archive"})
	require.True(t, created.OK)
	require.Len(t, created.EntityIDs, 1)
	id := created.EntityIDs[0]

	ch, found, err := m.ChannelByID(ctx, "g1", id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "text", ch.Type)

	renamed := run(t, reg, domain.ActionRenameChannel, map[string]any{"channel_name": "#archive", "new_name": "old-archive"})
	assert.Equal(t, "Channel renamed: #archive -> #old-archive", renamed.Message)

	deleted := run(t, reg, domain.ActionDeleteChannel, map[string]any{"channel_id": "<#" + id + ">"})
	assert.True(t, deleted.OK)
	_, found, err = m.ChannelByID(ctx, "g1", id)
	require.NoError(t, err)
	assert.False(t, found)

	missing := run(t, reg, domain.ActionDeleteChannel, map[string]any{"channel_id": id})
	assert.False(t, missing.OK)
	assert.Equal(t, "Channel not found.", missing.Message)
}

func TestMockPlatform_InvalidParams(t *testing.T) {
	_, reg := mockRegistry()
	res := run(t, reg, domain.ActionCreateChannel, map[string]any{"name": "x", "type": "stage"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "type")
}

func TestMockPlatform_RoleMembershipDrivesPermissions(t *testing.T) {
	m, reg := mockRegistry()
	ctx := context.Background()
	m.AddMember(domain.Member{ID: "301", Tag: "alice"})

	perms, err := m.EffectivePermissions(ctx, "g1", "301")
	require.NoError(t, err)
	assert.Empty(t, perms)

	res := run(t, reg, domain.ActionAssignRole, map[string]any{"role_name": "Moderator", "user_mention": "<@301>"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "Role Moderator assigned to alice.", res.Message)

	perms, err = m.EffectivePermissions(ctx, "g1", "301")
	require.NoError(t, err)
	assert.Equal(t, []string{tools.PermManageMessages}, perms)

	run(t, reg, domain.ActionRemoveRole, map[string]any{"role_id": "201", "user_id": "301"})
	member, _, err := m.MemberByID(ctx, "g1", "301")
	require.NoError(t, err)
	assert.False(t, member.HasRole("201"))
}

func TestMockPlatform_DeleteRoleStripsMembers(t *testing.T) {
	m, reg := mockRegistry()
	res := run(t, reg, domain.ActionDeleteRole, map[string]any{"role_id": "<@&200>"})
	require.True(t, res.OK)

	member, found, err := m.MemberByID(context.Background(), "g1", "300")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, member.RoleIDs)
}

func TestMockPlatform_BotPermissions(t *testing.T) {
	m, _ := mockRegistry()
	m.SetBotPermissions(tools.PermViewChannel)

	perms, err := m.EffectivePermissions(context.Background(), "g1", guardrail.BotSubject)
	require.NoError(t, err)
	assert.Equal(t, []string{tools.PermViewChannel}, perms)
}

func TestMockPlatform_Diagnose(t *testing.T) {
	m, reg := mockRegistry()
	m.SetBotPermissions(tools.PermViewChannel, tools.PermManageRoles)

	res := run(t, reg, domain.ActionDiagnoseGuild, map[string]any{"topic": "permissions"})
	assert.True(t, res.OK)
	assert.Equal(t, "bot lacks ManageChannels\nbot lacks ManageMessages", res.Message)

	res = run(t, reg, domain.ActionDiagnoseGuild, map[string]any{"topic": "roles"})
	assert.Equal(t, "role @Moderator has no members", res.Message)
}

func TestMockPlatform_Overwrites(t *testing.T) {
	_, reg := mockRegistry()
	res := run(t, reg, domain.ActionUpdateOverwrites, map[string]any{
		"channel_name": "general",
		"role_name":    "Moderator",
		"deny":         []string{"SendMessages"},
	})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, []string{"100", "201"}, res.EntityIDs)

	details := run(t, reg, domain.ActionGetChannelDetails, map[string]any{"channel_id": "100"})
	data := details.Data.(map[string]any)
	assert.Equal(t, map[string]mockOverwrite{"201": {Deny: []string{"SendMessages"}}}, data["overwrites"])
}

func TestMockPlatform_HonoursCancellation(t *testing.T) {
	m, reg := mockRegistry()
	m.MaxLatency = 1 << 40
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := reg.Invoke(ctx, toolCtx(), domain.PlannedAction{Action: domain.ActionListRoles})
	require.Error(t, err)
	assert.False(t, res.OK)
}
