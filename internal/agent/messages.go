package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

const (
	maxParamsChars  = 600
	maxMessageChars = 2200
	maxDataChars    = 1800
	truncatedSuffix = "\n...(truncated)"
)

// TruncateForLLM обрезает текст для контекста модели с пометкой об усечении.
func TruncateForLLM(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	keep := maxChars - 30
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + truncatedSuffix
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// ToolResultMessage сообщение с результатом инструмента, которое возвращается модели.
func ToolResultMessage(action domain.PlannedAction, res tools.Result) domain.ChatMessage {
	params := action.Params
	if params == nil {
		params = map[string]any{}
	}
	lines := []string{
		"[TOOL_RESULT]",
		"action=" + action.Action,
		"params=" + TruncateForLLM(marshalCompact(params), maxParamsChars),
		fmt.Sprintf("ok=%t", res.OK),
		"message:",
		TruncateForLLM(res.Message, maxMessageChars),
	}
	if res.Data != nil {
		lines = append(lines, "data:", TruncateForLLM(marshalCompact(res.Data), maxDataChars))
	}
	return domain.ChatMessage{Role: domain.RoleAssistant, Content: strings.Join(lines, "\n")}
}

func channelRef(params map[string]any) string {
	ref := tools.ChannelRefFrom(params)
	switch {
	case ref.ID != "":
		return "<#" + ref.ID + ">"
	case ref.Name != "":
		return "#" + ref.Name
	}
	return "(channel)"
}

func roleRef(params map[string]any) string {
	ref := tools.RoleRefFrom(params)
	switch {
	case ref.ID != "":
		return "<@&" + ref.ID + ">"
	case ref.Name != "":
		return "@" + ref.Name
	}
	return "(role)"
}

func userRef(params map[string]any) string {
	if raw, ok := tools.GetString(params, "user_mention"); ok {
		return raw
	}
	if id := tools.MemberIDFrom(params); id != "" {
		return "<@" + id + ">"
	}
	return "(user)"
}

func stringOr(params map[string]any, key, fallback string) string {
	if s, ok := tools.GetString(params, key); ok {
		return s
	}
	return fallback
}

// SummarizeAction короткое описание действия для пользователя.
func SummarizeAction(a domain.PlannedAction, lang domain.Language) string {
	p := a.Params
	if p == nil {
		p = map[string]any{}
	}

	switch a.Action {
	case domain.ActionCreateChannel:
		kind := stringOr(p, "type", "text")
		defName := "text-channel"
		if kind == "voice" {
			defName = "voice-room"
		}
		name := stringOr(p, "name", defName)
		limit := ""
		if v, ok := tools.GetString(p, "user_limit"); ok {
			limit = " (limit=" + v + ")"
		}
		return lang.T(
			fmt.Sprintf("Create %s channel: #%s%s", kind, name, limit),
			fmt.Sprintf("%sチャンネルを作成: #%s%s", kind, name, limit),
		)
	case domain.ActionRenameChannel:
		newName := stringOr(p, "new_name", "(missing new_name)")
		return lang.T("Rename channel "+channelRef(p)+" → "+newName, "チャンネル名変更 "+channelRef(p)+" → "+newName)
	case domain.ActionDeleteChannel:
		return lang.T("Delete channel "+channelRef(p), "チャンネル削除 "+channelRef(p))
	case domain.ActionCreateRole:
		name := stringOr(p, "name", "(missing name)")
		return lang.T("Create role: "+name, "ロール作成: "+name)
	case domain.ActionDeleteRole:
		return lang.T("Delete role "+roleRef(p), "ロール削除 "+roleRef(p))
	case domain.ActionAssignRole:
		return lang.T("Assign role "+roleRef(p)+" to "+userRef(p), userRef(p)+" に "+roleRef(p)+" を付与")
	case domain.ActionRemoveRole:
		return lang.T("Remove role "+roleRef(p)+" from "+userRef(p), userRef(p)+" から "+roleRef(p)+" を剥奪")
	case domain.ActionUpdateOverwrites:
		var extra string
		if allow := tools.GetStrings(p, "allow"); len(allow) > 0 {
			extra += " allow=[" + strings.Join(allow, ", ") + "]"
		}
		if deny := tools.GetStrings(p, "deny"); len(deny) > 0 {
			extra += " deny=[" + strings.Join(deny, ", ") + "]"
		}
		target := userRef(p)
		if !tools.RoleRefFrom(p).IsZero() {
			target = roleRef(p)
		}
		return lang.T(
			"Update permissions on "+channelRef(p)+" for "+target+extra,
			"権限更新 "+channelRef(p)+" / 対象 "+target+extra,
		)
	case domain.ActionPinMessage:
		msgID := stringOr(p, "message_id", "(message_id)")
		return lang.T("Pin message "+msgID+" in "+channelRef(p), "ピン留め "+channelRef(p)+" / "+msgID)
	case domain.ActionCreateThread:
		name := stringOr(p, "name", "(thread)")
		return lang.T("Create thread: "+name+" in "+channelRef(p), "スレッド作成: "+name+" / "+channelRef(p))
	case domain.ActionListThreads:
		var extra string
		if v, ok := tools.GetString(p, "prefix"); ok {
			extra += fmt.Sprintf(" prefix=%q", v)
		}
		if v, ok := tools.GetString(p, "name_contains"); ok {
			extra += fmt.Sprintf(" contains=%q", v)
		}
		if v, ok := tools.GetString(p, "limit"); ok {
			extra += " limit=" + v
		}
		return lang.T("List threads"+extra, "スレッド一覧"+extra)
	}
	return lang.T("Run "+a.Action, a.Action+" を実行")
}

// SummarizeActions список действий по строке "• ...".
func SummarizeActions(actions []domain.PlannedAction, lang domain.Language) string {
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = "• " + SummarizeAction(a, lang)
	}
	return strings.Join(lines, "\n")
}

// ConfirmationMessage текст запроса подтверждения для разрушительного пакета.
func ConfirmationMessage(lang domain.Language, preface string, actions []domain.PlannedAction, imp domain.Impact) string {
	var parts []string
	if p := strings.TrimSpace(preface); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts,
		lang.T("This is a destructive change.", "破壊的な変更です。"),
		lang.T("Planned actions", "操作内容")+":\n"+SummarizeActions(actions, lang),
		lang.T("Impact", "影響範囲")+":\n"+impact.Format(imp, lang),
		lang.T("Only the requester can Accept. Reject will cancel.", "Accept / Reject は依頼者のみ実行できます。Reject でキャンセルします。"),
	)
	return strings.Join(parts, "\n\n")
}
