package connectors

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

type mockThread struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type mockOverwrite struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// MockPlatform гильдия в памяти процесса: локальный запуск без платформы и тесты.
// Гильдия одна на весь мок, guildID вызовов не различается.
type MockPlatform struct {
	mu         sync.Mutex
	channels   []domain.Channel
	roles      []domain.Role
	rolePerms  map[string][]string
	members    map[string]domain.Member
	threads    []mockThread
	pins       map[string][]string
	overwrites map[string]map[string]mockOverwrite
	botPerms   []string
	nextID     int

	// MaxLatency верхняя граница имитируемой задержки вызова (0 — без задержки).
	MaxLatency time.Duration
}

// NewMockPlatform создает гильдию с базовым набором каналов и ролей.
func NewMockPlatform() *MockPlatform {
	m := &MockPlatform{
		rolePerms:  make(map[string][]string),
		members:    make(map[string]domain.Member),
		pins:       make(map[string][]string),
		overwrites: make(map[string]map[string]mockOverwrite),
		nextID:     1000,
		botPerms: []string{
			tools.PermViewChannel, tools.PermManageChannels, tools.PermManageRoles,
			tools.PermManageMessages, tools.PermCreatePublicThreads, tools.PermSendMessages,
		},
	}
	m.AddChannel(domain.Channel{ID: "100", Name: "general", Type: "text"})
	m.AddChannel(domain.Channel{ID: "101", Name: "announcements", Type: "text"})
	m.AddChannel(domain.Channel{ID: "102", Name: "voice-1", Type: "voice"})
	m.AddRole(domain.Role{ID: "200", Name: "Admin"}, guardrail.PermAdministrator)
	m.AddRole(domain.Role{ID: "201", Name: "Moderator"}, tools.PermManageMessages)
	m.AddMember(domain.Member{ID: "300", Tag: "owner", RoleIDs: []string{"200"}})
	return m
}

func (m *MockPlatform) AddChannel(ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

func (m *MockPlatform) AddRole(role domain.Role, perms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = append(m.roles, role)
	m.rolePerms[role.ID] = perms
}

func (m *MockPlatform) AddMember(member domain.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
}

// SetBotPermissions заменяет эффективные права бота.
func (m *MockPlatform) SetBotPermissions(perms ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botPerms = perms
}

func (m *MockPlatform) newID() string {
	m.nextID++
	return strconv.Itoa(m.nextID)
}

// delay имитирует сетевую задержку платформы.
func (m *MockPlatform) delay(ctx context.Context) error {
	if err := ctx.Err(); err != nil || m.MaxLatency <= 0 {
		return err
	}
	latency := time.Duration(rand.IntN(int(m.MaxLatency)))
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- impact.Directory ---

func (m *MockPlatform) ChannelByID(ctx context.Context, _ string, id string) (domain.Channel, bool, error) {
	if err := m.delay(ctx); err != nil {
		return domain.Channel{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.channelIndex(tools.ChannelRef{ID: id})
	if i < 0 {
		return domain.Channel{}, false, nil
	}
	return m.channels[i], true, nil
}

func (m *MockPlatform) Channels(ctx context.Context, _ string) ([]domain.Channel, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Channel(nil), m.channels...), nil
}

func (m *MockPlatform) RoleByID(ctx context.Context, _ string, id string) (domain.Role, bool, error) {
	if err := m.delay(ctx); err != nil {
		return domain.Role{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.roleIndex(tools.RoleRef{ID: id})
	if i < 0 {
		return domain.Role{}, false, nil
	}
	return m.roles[i], true, nil
}

func (m *MockPlatform) Roles(ctx context.Context, _ string) ([]domain.Role, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Role(nil), m.roles...), nil
}

func (m *MockPlatform) MemberByID(ctx context.Context, _ string, id string) (domain.Member, bool, error) {
	if err := m.delay(ctx); err != nil {
		return domain.Member{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	return member, ok, nil
}

// --- guardrail.PermissionOracle ---

func (m *MockPlatform) EffectivePermissions(ctx context.Context, _ string, subjectID string) ([]string, error) {
	if err := m.delay(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if subjectID == guardrail.BotSubject {
		return append([]string(nil), m.botPerms...), nil
	}
	member, ok := m.members[subjectID]
	if !ok {
		return nil, nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, roleID := range member.RoleIDs {
		for _, p := range m.rolePerms[roleID] {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// --- поиск (вызывается под mu) ---

func (m *MockPlatform) channelIndex(ref tools.ChannelRef) int {
	for i, ch := range m.channels {
		if ref.ID != "" && ch.ID == ref.ID {
			return i
		}
	}
	if ref.Name == "" {
		return -1
	}
	name := strings.TrimPrefix(ref.Name, "#")
	for i, ch := range m.channels {
		if strings.EqualFold(ch.Name, name) {
			return i
		}
	}
	return -1
}

func (m *MockPlatform) roleIndex(ref tools.RoleRef) int {
	for i, r := range m.roles {
		if ref.ID != "" && r.ID == ref.ID {
			return i
		}
	}
	if ref.Name == "" {
		return -1
	}
	name := strings.TrimPrefix(ref.Name, "@")
	for i, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			return i
		}
	}
	return -1
}

// --- инструменты ---

// Register регистрирует обработчики всех встроенных действий в реестре.
func (m *MockPlatform) Register(reg *tools.Registry) {
	handlers := map[string]func(tools.Context, map[string]any) (tools.Result, error){
		domain.ActionListChannels:        m.listChannels,
		domain.ActionGetChannelDetails:   m.channelDetails,
		domain.ActionCreateChannel:       m.createChannel,
		domain.ActionRenameChannel:       m.renameChannel,
		domain.ActionDeleteChannel:       m.deleteChannel,
		domain.ActionCreateThread:        m.createThread,
		domain.ActionPinMessage:          m.pinMessage,
		domain.ActionListRoles:           m.listRoles,
		domain.ActionGetRoleDetails:      m.roleDetails,
		domain.ActionCreateRole:          m.createRole,
		domain.ActionDeleteRole:          m.deleteRole,
		domain.ActionAssignRole:          m.assignRole,
		domain.ActionRemoveRole:          m.removeRole,
		domain.ActionUpdateOverwrites:    m.updateOverwrites,
		domain.ActionGetGuildPermissions: m.guildPermissions,
		domain.ActionGetBotPermissions:   m.botPermissions,
		domain.ActionListThreads:         m.listThreads,
		domain.ActionFindMembers:         m.findMembers,
		domain.ActionGetMemberDetails:    m.memberDetails,
		domain.ActionDiagnoseGuild:       m.diagnose,
	}
	for name, fn := range handlers {
		reg.Register(name, func(ctx context.Context, tc tools.Context, params map[string]any) (tools.Result, error) {
			if err := m.delay(ctx); err != nil {
				return tools.Result{}, err
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			return fn(tc, params)
		})
	}
}

func fail(msg string) (tools.Result, error) {
	return tools.Result{OK: false, Message: msg}, nil
}

func (m *MockPlatform) listChannels(tc tools.Context, _ map[string]any) (tools.Result, error) {
	return tools.Result{
		OK:      true,
		Message: tc.Lang.T(fmt.Sprintf("%d channels", len(m.channels)), fmt.Sprintf("チャンネル %d 件", len(m.channels))),
		Data:    append([]domain.Channel(nil), m.channels...),
	}, nil
}

func (m *MockPlatform) channelDetails(tc tools.Context, p map[string]any) (tools.Result, error) {
	i := m.channelIndex(tools.ChannelRefFrom(p))
	if i < 0 {
		return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
	}
	ch := m.channels[i]
	return tools.Result{
		OK:        true,
		Message:   "#" + ch.Name,
		EntityIDs: []string{ch.ID},
		Data:      map[string]any{"channel": ch, "overwrites": m.overwrites[ch.ID], "pins": len(m.pins[ch.ID])},
	}, nil
}

func (m *MockPlatform) createChannel(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeCreateChannel(p)
	if err != nil {
		return fail(err.Error())
	}
	ch := domain.Channel{ID: m.newID(), Name: req.Name, Type: req.Type, ParentID: req.ParentID}
	m.channels = append(m.channels, ch)
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Channel created: #"+ch.Name, "チャンネルを作成しました: #"+ch.Name),
		EntityIDs: []string{ch.ID},
	}, nil
}

func (m *MockPlatform) renameChannel(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeRenameChannel(p)
	if err != nil {
		return fail(err.Error())
	}
	i := m.channelIndex(req.Channel)
	if i < 0 {
		return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
	}
	old := m.channels[i].Name
	m.channels[i].Name = req.NewName
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T(fmt.Sprintf("Channel renamed: #%s -> #%s", old, req.NewName), fmt.Sprintf("チャンネル名を変更しました: #%s -> #%s", old, req.NewName)),
		EntityIDs: []string{m.channels[i].ID},
	}, nil
}

func (m *MockPlatform) deleteChannel(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeDeleteChannel(p)
	if err != nil {
		return fail(err.Error())
	}
	i := m.channelIndex(req.Channel)
	if i < 0 {
		return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
	}
	ch := m.channels[i]
	m.channels = append(m.channels[:i], m.channels[i+1:]...)
	delete(m.overwrites, ch.ID)
	delete(m.pins, ch.ID)
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Channel deleted: #"+ch.Name, "チャンネルを削除しました: #"+ch.Name),
		EntityIDs: []string{ch.ID},
	}, nil
}

func (m *MockPlatform) createThread(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeCreateThread(p)
	if err != nil {
		return fail(err.Error())
	}
	parent := tc.ThreadID
	if !req.Channel.IsZero() {
		i := m.channelIndex(req.Channel)
		if i < 0 {
			return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
		}
		parent = m.channels[i].ID
	}
	th := mockThread{ID: m.newID(), Name: req.Name, ParentID: parent}
	m.threads = append(m.threads, th)
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Thread created: "+th.Name, "スレッドを作成しました: "+th.Name),
		EntityIDs: []string{th.ID},
	}, nil
}

func (m *MockPlatform) pinMessage(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodePinMessage(p)
	if err != nil {
		return fail(err.Error())
	}
	channelID := tc.ThreadID
	if !req.Channel.IsZero() {
		i := m.channelIndex(req.Channel)
		if i < 0 {
			return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
		}
		channelID = m.channels[i].ID
	}
	m.pins[channelID] = append(m.pins[channelID], req.MessageID)
	return tools.Result{OK: true, Message: tc.Lang.T("Message pinned.", "メッセージをピン留めしました。"), EntityIDs: []string{req.MessageID}}, nil
}

func (m *MockPlatform) listRoles(tc tools.Context, _ map[string]any) (tools.Result, error) {
	return tools.Result{
		OK:      true,
		Message: tc.Lang.T(fmt.Sprintf("%d roles", len(m.roles)), fmt.Sprintf("ロール %d 件", len(m.roles))),
		Data:    append([]domain.Role(nil), m.roles...),
	}, nil
}

func (m *MockPlatform) roleDetails(tc tools.Context, p map[string]any) (tools.Result, error) {
	i := m.roleIndex(tools.RoleRefFrom(p))
	if i < 0 {
		return fail(tc.Lang.T("Role not found.", "ロールが見つかりません。"))
	}
	role := m.roles[i]
	return tools.Result{
		OK:        true,
		Message:   "@" + role.Name,
		EntityIDs: []string{role.ID},
		Data:      map[string]any{"role": role, "permissions": m.rolePerms[role.ID], "members": m.holders(role.ID)},
	}, nil
}

func (m *MockPlatform) holders(roleID string) []string {
	var out []string
	for id, member := range m.members {
		if member.HasRole(roleID) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MockPlatform) createRole(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeCreateRole(p)
	if err != nil {
		return fail(err.Error())
	}
	role := domain.Role{ID: m.newID(), Name: req.Name}
	m.roles = append(m.roles, role)
	m.rolePerms[role.ID] = nil
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Role created: "+role.Name, "ロールを作成しました: "+role.Name),
		EntityIDs: []string{role.ID},
	}, nil
}

func (m *MockPlatform) deleteRole(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeDeleteRole(p)
	if err != nil {
		return fail(err.Error())
	}
	i := m.roleIndex(req.Role)
	if i < 0 {
		return fail(tc.Lang.T("Role not found.", "ロールが見つかりません。"))
	}
	role := m.roles[i]
	m.roles = append(m.roles[:i], m.roles[i+1:]...)
	delete(m.rolePerms, role.ID)
	for id, member := range m.members {
		member.RoleIDs = without(member.RoleIDs, role.ID)
		m.members[id] = member
	}
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Role deleted: "+role.Name, "ロールを削除しました: "+role.Name),
		EntityIDs: []string{role.ID},
	}, nil
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (m *MockPlatform) membership(tc tools.Context, action string, p map[string]any) (domain.Role, domain.Member, *tools.Result) {
	req, err := tools.DecodeRoleMembership(action, p)
	if err != nil {
		return domain.Role{}, domain.Member{}, &tools.Result{Message: err.Error()}
	}
	i := m.roleIndex(req.Role)
	if i < 0 {
		return domain.Role{}, domain.Member{}, &tools.Result{Message: tc.Lang.T("Role not found.", "ロールが見つかりません。")}
	}
	member, ok := m.members[req.MemberID]
	if !ok {
		return domain.Role{}, domain.Member{}, &tools.Result{Message: tc.Lang.T("Member not found.", "メンバーが見つかりません。")}
	}
	return m.roles[i], member, nil
}

func (m *MockPlatform) assignRole(tc tools.Context, p map[string]any) (tools.Result, error) {
	role, member, bad := m.membership(tc, domain.ActionAssignRole, p)
	if bad != nil {
		return *bad, nil
	}
	if !member.HasRole(role.ID) {
		member.RoleIDs = append(member.RoleIDs, role.ID)
		m.members[member.ID] = member
	}
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T(fmt.Sprintf("Role %s assigned to %s.", role.Name, member.Tag), fmt.Sprintf("%s にロール %s を付与しました。", member.Tag, role.Name)),
		EntityIDs: []string{role.ID, member.ID},
	}, nil
}

func (m *MockPlatform) removeRole(tc tools.Context, p map[string]any) (tools.Result, error) {
	role, member, bad := m.membership(tc, domain.ActionRemoveRole, p)
	if bad != nil {
		return *bad, nil
	}
	member.RoleIDs = without(member.RoleIDs, role.ID)
	m.members[member.ID] = member
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T(fmt.Sprintf("Role %s removed from %s.", role.Name, member.Tag), fmt.Sprintf("%s からロール %s を外しました。", member.Tag, role.Name)),
		EntityIDs: []string{role.ID, member.ID},
	}, nil
}

func (m *MockPlatform) updateOverwrites(tc tools.Context, p map[string]any) (tools.Result, error) {
	req, err := tools.DecodeOverwrites(p)
	if err != nil {
		return fail(err.Error())
	}
	i := m.channelIndex(req.Channel)
	if i < 0 {
		return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
	}
	target := req.MemberID
	if !req.Role.IsZero() {
		j := m.roleIndex(req.Role)
		if j < 0 {
			return fail(tc.Lang.T("Role not found.", "ロールが見つかりません。"))
		}
		target = m.roles[j].ID
	}
	ch := m.channels[i]
	if m.overwrites[ch.ID] == nil {
		m.overwrites[ch.ID] = make(map[string]mockOverwrite)
	}
	m.overwrites[ch.ID][target] = mockOverwrite{Allow: req.Allow, Deny: req.Deny}
	return tools.Result{
		OK:        true,
		Message:   tc.Lang.T("Permission overwrites updated for #"+ch.Name, "#"+ch.Name+" の権限上書きを更新しました。"),
		EntityIDs: []string{ch.ID, target},
	}, nil
}

func (m *MockPlatform) guildPermissions(tc tools.Context, _ map[string]any) (tools.Result, error) {
	data := make(map[string][]string, len(m.roles))
	for _, r := range m.roles {
		data[r.Name] = m.rolePerms[r.ID]
	}
	return tools.Result{OK: true, Message: tc.Lang.T("Role permissions", "ロール権限"), Data: data}, nil
}

func (m *MockPlatform) botPermissions(tc tools.Context, _ map[string]any) (tools.Result, error) {
	return tools.Result{
		OK:      true,
		Message: strings.Join(m.botPerms, ", "),
		Data:    map[string]any{"permissions": append([]string(nil), m.botPerms...)},
	}, nil
}

func (m *MockPlatform) listThreads(tc tools.Context, p map[string]any) (tools.Result, error) {
	ref := tools.ChannelRefFrom(p)
	parent := ""
	if !ref.IsZero() {
		i := m.channelIndex(ref)
		if i < 0 {
			return fail(tc.Lang.T("Channel not found.", "チャンネルが見つかりません。"))
		}
		parent = m.channels[i].ID
	}
	var out []mockThread
	for _, th := range m.threads {
		if parent == "" || th.ParentID == parent {
			out = append(out, th)
		}
	}
	return tools.Result{OK: true, Message: tc.Lang.T(fmt.Sprintf("%d threads", len(out)), fmt.Sprintf("スレッド %d 件", len(out))), Data: out}, nil
}

func (m *MockPlatform) findMembers(tc tools.Context, p map[string]any) (tools.Result, error) {
	query, _ := tools.GetString(p, "query")
	query = strings.ToLower(query)
	var out []domain.Member
	for _, member := range m.members {
		if query == "" || strings.Contains(strings.ToLower(member.Tag), query) {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return tools.Result{OK: true, Message: tc.Lang.T(fmt.Sprintf("%d members", len(out)), fmt.Sprintf("メンバー %d 件", len(out))), Data: out}, nil
}

func (m *MockPlatform) memberDetails(tc tools.Context, p map[string]any) (tools.Result, error) {
	member, ok := m.members[tools.MemberIDFrom(p)]
	if !ok {
		return fail(tc.Lang.T("Member not found.", "メンバーが見つかりません。"))
	}
	return tools.Result{OK: true, Message: member.Tag, EntityIDs: []string{member.ID}, Data: member}, nil
}

// diagnose собирает короткую сводку по теме: каналы, роли, права или обзор.
func (m *MockPlatform) diagnose(tc tools.Context, p map[string]any) (tools.Result, error) {
	topic, _ := tools.GetString(p, "topic")
	if topic == "" {
		topic = "overview"
	}
	var issues []string
	have := make(map[string]bool, len(m.botPerms))
	for _, perm := range m.botPerms {
		have[perm] = true
	}
	if topic == "overview" || topic == "permissions" {
		if !have[guardrail.PermAdministrator] {
			for _, perm := range []string{tools.PermManageChannels, tools.PermManageRoles, tools.PermManageMessages} {
				if !have[perm] {
					issues = append(issues, "bot lacks "+perm)
				}
			}
		}
	}
	if topic == "overview" || topic == "roles" {
		for _, r := range m.roles {
			if len(m.holders(r.ID)) == 0 {
				issues = append(issues, "role @"+r.Name+" has no members")
			}
		}
	}
	if topic == "overview" || topic == "channels" {
		for _, ch := range m.channels {
			if ch.Type == "text" && ch.ParentID == "" {
				issues = append(issues, "#"+ch.Name+" is not in a category")
			}
		}
	}
	msg := tc.Lang.T("No issues found.", "問題は見つかりませんでした。")
	if len(issues) > 0 {
		msg = strings.Join(issues, "\n")
	}
	return tools.Result{
		OK:      true,
		Message: msg,
		Data: map[string]any{
			"topic":    topic,
			"channels": len(m.channels),
			"roles":    len(m.roles),
			"members":  len(m.members),
			"issues":   issues,
		},
	}, nil
}
