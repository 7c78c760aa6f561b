// Package impact превращает параметры разрушительных действий в читаемое описание затронутых сущностей.
package impact

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

// Directory — чтение сущностей гильдии. found=false, если сущность не существует (могла быть удалена конкурентно).
type Directory interface {
	ChannelByID(ctx context.Context, guildID, id string) (domain.Channel, bool, error)
	Channels(ctx context.Context, guildID string) ([]domain.Channel, error)
	RoleByID(ctx context.Context, guildID, id string) (domain.Role, bool, error)
	Roles(ctx context.Context, guildID string) ([]domain.Role, error)
	MemberByID(ctx context.Context, guildID, id string) (domain.Member, bool, error)
}

// Resolver строит Impact через Directory. Ошибки справочника не валят подтверждение:
// сущность показывается как unknown.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

var (
	channelActions = map[string]bool{
		domain.ActionDeleteChannel:    true,
		domain.ActionRenameChannel:    true,
		domain.ActionUpdateOverwrites: true,
	}
	roleActions = map[string]bool{
		domain.ActionDeleteRole: true,
		domain.ActionAssignRole: true,
		domain.ActionRemoveRole: true,
	}
	memberActions = map[string]bool{
		domain.ActionAssignRole:    true,
		domain.ActionRemoveRole:    true,
		domain.ActionKickMember:    true,
		domain.ActionBanMember:     true,
		domain.ActionTimeoutMember: true,
	}
)

// Resolve описывает одно действие.
func (r *Resolver) Resolve(ctx context.Context, guildID string, action domain.PlannedAction) domain.Impact {
	var out domain.Impact
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}

	if channelActions[action.Action] {
		ref := tools.ChannelRefFrom(params)
		ch, ok := r.channel(ctx, guildID, ref)
		if d := describeChannel(ch.Name, pick(ok, ch.ID, ref.ID)); d != "" {
			out.Channels = []string{d}
		}
	}

	if roleActions[action.Action] {
		ref := tools.RoleRefFrom(params)
		role, ok := r.role(ctx, guildID, ref)
		if d := describeRole(role.Name, pick(ok, role.ID, ref.ID)); d != "" {
			out.Roles = []string{d}
		}
	}

	if memberActions[action.Action] {
		id := tools.MemberIDFrom(params)
		m, ok := r.member(ctx, guildID, id)
		if d := describeMember(m.Tag, pick(ok, m.ID, id)); d != "" {
			out.Members = []string{d}
		}
	}

	if action.Action == domain.ActionRenameChannel {
		if newName, ok := tools.GetString(params, "new_name"); ok {
			out.Channels = append(out.Channels, "rename-to: #"+newName)
		}
	}

	if action.Action == domain.ActionUpdateOverwrites {
		for _, p := range tools.GetStrings(params, "allow") {
			out.Permissions = append(out.Permissions, "allow:"+p)
		}
		for _, p := range tools.GetStrings(params, "deny") {
			out.Permissions = append(out.Permissions, "deny:"+p)
		}
		// Цель перезаписи: роль, если она нашлась, иначе участник.
		if role, ok := r.role(ctx, guildID, tools.RoleRefFrom(params)); ok {
			out.Roles = []string{describeRole(role.Name, role.ID)}
		} else if m, ok := r.member(ctx, guildID, tools.MemberIDFrom(params)); ok {
			out.Members = []string{describeMember(m.Tag, m.ID)}
		}
	}

	return out
}

// ResolveAll сливает Impact всех действий пакета в один.
func (r *Resolver) ResolveAll(ctx context.Context, guildID string, actions []domain.PlannedAction) domain.Impact {
	var out domain.Impact
	for _, a := range actions {
		out = domain.MergeImpact(out, r.Resolve(ctx, guildID, a))
	}
	return out
}

func (r *Resolver) channel(ctx context.Context, guildID string, ref tools.ChannelRef) (domain.Channel, bool) {
	if r.dir == nil {
		return domain.Channel{}, false
	}
	if ref.ID != "" {
		ch, ok, err := r.dir.ChannelByID(ctx, guildID, ref.ID)
		return ch, ok && err == nil
	}
	if ref.Name == "" {
		return domain.Channel{}, false
	}
	list, err := r.dir.Channels(ctx, guildID)
	if err != nil {
		return domain.Channel{}, false
	}
	for _, ch := range list {
		if ch.Name == ref.Name {
			return ch, true
		}
	}
	return domain.Channel{}, false
}

func (r *Resolver) role(ctx context.Context, guildID string, ref tools.RoleRef) (domain.Role, bool) {
	if r.dir == nil {
		return domain.Role{}, false
	}
	if ref.ID != "" {
		role, ok, err := r.dir.RoleByID(ctx, guildID, ref.ID)
		return role, ok && err == nil
	}
	if ref.Name == "" {
		return domain.Role{}, false
	}
	list, err := r.dir.Roles(ctx, guildID)
	if err != nil {
		return domain.Role{}, false
	}
	for _, role := range list {
		if role.Name == ref.Name {
			return role, true
		}
	}
	return domain.Role{}, false
}

func (r *Resolver) member(ctx context.Context, guildID, id string) (domain.Member, bool) {
	if r.dir == nil || id == "" {
		return domain.Member{}, false
	}
	m, ok, err := r.dir.MemberByID(ctx, guildID, id)
	return m, ok && err == nil
}

func pick(found bool, resolved, fallback string) string {
	if found && resolved != "" {
		return resolved
	}
	return fallback
}

func describeChannel(name, id string) string {
	switch {
	case name != "" && id != "":
		return fmt.Sprintf("#%s (%s)", name, id)
	case name != "":
		return "#" + name
	case id != "":
		return fmt.Sprintf("#unknown (%s)", id)
	}
	return ""
}

func describeRole(name, id string) string {
	switch {
	case name != "" && id != "":
		return fmt.Sprintf("%s (%s)", name, id)
	case name != "":
		return name
	case id != "":
		return fmt.Sprintf("unknown-role (%s)", id)
	}
	return ""
}

func describeMember(tag, id string) string {
	switch {
	case tag != "" && id != "":
		return fmt.Sprintf("%s (%s)", tag, id)
	case tag != "":
		return tag
	case id != "":
		return fmt.Sprintf("unknown-member (%s)", id)
	}
	return ""
}

// Format печатает Impact построчно на языке гильдии.
func Format(imp domain.Impact, lang domain.Language) string {
	var lines []string
	add := func(en, ja string, items []string) {
		if len(items) == 0 {
			return
		}
		lines = append(lines, lang.T(en, ja)+": "+strings.Join(items, ", "))
	}
	add("channels", "チャンネル", imp.Channels)
	add("roles", "ロール", imp.Roles)
	add("members", "メンバー", imp.Members)
	add("permissions", "権限", imp.Permissions)

	if len(lines) == 0 {
		return lang.T("(no impact details)", "(影響範囲なし)")
	}
	return strings.Join(lines, "\n")
}
