package guardrail

import (
	"context"
	"regexp"
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

var vcRe = regexp.MustCompile(`\bvc\b|vc\d+`)

var (
	channelTargeted = map[string]bool{
		domain.ActionRenameChannel:     true,
		domain.ActionDeleteChannel:     true,
		domain.ActionGetChannelDetails: true,
		domain.ActionUpdateOverwrites:  true,
	}
	roleTargeted = map[string]bool{
		domain.ActionAssignRole:     true,
		domain.ActionRemoveRole:     true,
		domain.ActionGetRoleDetails: true,
		domain.ActionDeleteRole:     true,
	}
)

func listChannels(kind string) domain.PlannedAction {
	return domain.PlannedAction{Action: domain.ActionListChannels, Params: map[string]any{"type": kind, "limit": 25}}
}

func listRoles() domain.PlannedAction {
	return domain.PlannedAction{Action: domain.ActionListRoles, Params: map[string]any{}}
}

// InferObservation подбирает наблюдение, если у действия нет ни id, ни имени цели.
func InferObservation(action domain.PlannedAction, userText string) (domain.PlannedAction, bool) {
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	text := strings.ToLower(userText)

	if channelTargeted[action.Action] && tools.ChannelRefFrom(params).IsZero() {
		kind := "any"
		// Для перезаписей прав тип канала не сужаем
		if action.Action != domain.ActionUpdateOverwrites && wantsVoice(text) {
			kind = "voice"
		}
		return listChannels(kind), true
	}

	if roleTargeted[action.Action] && tools.RoleRefFrom(params).IsZero() {
		return listRoles(), true
	}

	return domain.PlannedAction{}, false
}

func wantsVoice(text string) bool {
	return strings.Contains(text, "ボイス") || strings.Contains(text, "voice") || vcRe.MatchString(text)
}

// AmbiguousTarget проверяет цели, заданные только именем: если имя не разрешается
// ровно в одну сущность, возвращается наблюдение со списком кандидатов.
func AmbiguousTarget(ctx context.Context, dir impact.Directory, guildID string, action domain.PlannedAction) (domain.PlannedAction, bool, error) {
	if dir == nil {
		return domain.PlannedAction{}, false, nil
	}
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}

	if channelTargeted[action.Action] {
		ref := tools.ChannelRefFrom(params)
		if ref.ID == "" && ref.Name != "" {
			list, err := dir.Channels(ctx, guildID)
			if err != nil {
				return domain.PlannedAction{}, false, err
			}
			n := 0
			for _, ch := range list {
				if ch.Name == ref.Name {
					n++
				}
			}
			if n != 1 {
				return listChannels("any"), true, nil
			}
		}
	}

	if roleTargeted[action.Action] {
		ref := tools.RoleRefFrom(params)
		if ref.ID == "" && ref.Name != "" {
			list, err := dir.Roles(ctx, guildID)
			if err != nil {
				return domain.PlannedAction{}, false, err
			}
			n := 0
			for _, r := range list {
				if r.Name == ref.Name {
					n++
				}
			}
			if n != 1 {
				return listRoles(), true, nil
			}
		}
	}

	return domain.PlannedAction{}, false, nil
}
