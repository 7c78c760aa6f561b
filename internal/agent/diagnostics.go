package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// DiagnosticsTopic — тема обзорного вопроса о гильдии.
type DiagnosticsTopic string

const (
	TopicOverview    DiagnosticsTopic = "overview"
	TopicPermissions DiagnosticsTopic = "permissions"
	TopicRoles       DiagnosticsTopic = "roles"
	TopicChannels    DiagnosticsTopic = "channels"

	shortQuestionChars = 12
)

type keywords struct {
	action           []string
	question         []string
	overview         []string
	permissions      []string
	roles            []string
	channels         []string
	shortOverview    []string
	shortPermissions []string
	shortRoles       []string
	shortChannels    []string
}

var (
	keywordsEN = keywords{
		action:           []string{"create", "add", "delete", "remove", "rename", "set", "update", "change", "move"},
		question:         []string{"what", "check", "review", "diagnos", "issue", "problem", "why", "how"},
		overview:         []string{"issues", "problem", "diagnos", "overall", "overview"},
		permissions:      []string{"permission", "permissions", "privilege"},
		roles:            []string{"role", "roles"},
		channels:         []string{"channel", "channels", "category"},
		shortOverview:    []string{"overall", "overview"},
		shortPermissions: []string{"permissions"},
		shortRoles:       []string{"roles"},
		shortChannels:    []string{"channels"},
	}
	keywordsJA = keywords{
		action: []string{"作", "作成", "追加", "削除", "消", "変更", "変", "リネーム", "設定", "作って", "消して", "変えて", "移動",
			"rename", "delete", "create", "add", "remove", "set", "update", "change"},
		question:         []string{"教えて", "見て", "確認", "診断", "問題", "改善", "どう", "どんな", "なに"},
		overview:         []string{"問題点", "改善", "診断", "全体", "全般", "やばい", "まずい"},
		permissions:      []string{"権限", "permission", "permissions"},
		roles:            []string{"ロール", "role", "roles"},
		channels:         []string{"チャンネル", "channel", "channels", "カテゴリ"},
		shortOverview:    []string{"全体"},
		shortPermissions: []string{"権限"},
		shortRoles:       []string{"ロール"},
		shortChannels:    []string{"チャンネル"},
	}
)

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// DetectDiagnosticsTopic распознает обзорный вопрос ("what's wrong with our roles?").
// Просьба что-то изменить без вопросительных слов темой не считается.
func DetectDiagnosticsTopic(raw string, lang domain.Language) (DiagnosticsTopic, bool) {
	text := strings.ToLower(strings.TrimSpace(raw))
	if text == "" {
		return "", false
	}
	kw := keywordsEN
	if lang == domain.LangJA {
		kw = keywordsJA
	}

	if containsAny(text, kw.action) && !containsAny(text, kw.question) {
		return "", false
	}

	switch {
	case containsAny(text, kw.permissions):
		return TopicPermissions, true
	case containsAny(text, kw.roles):
		return TopicRoles, true
	case containsAny(text, kw.channels):
		return TopicChannels, true
	case containsAny(text, kw.overview):
		return TopicOverview, true
	}

	if utf8.RuneCountInString(text) > shortQuestionChars {
		return "", false
	}
	switch {
	case containsAny(text, kw.shortOverview):
		return TopicOverview, true
	case containsAny(text, kw.shortPermissions):
		return TopicPermissions, true
	case containsAny(text, kw.shortRoles):
		return TopicRoles, true
	case containsAny(text, kw.shortChannels):
		return TopicChannels, true
	}
	return "", false
}

func diagnosticsHint(lang domain.Language) domain.ChatMessage {
	return domain.ChatMessage{
		Role: domain.RoleSystem,
		Content: lang.T(
			"The user asked for an overview/diagnosis. Use the diagnostics result to give a helpful report and next question. Prefer type='finish' or type='ask' unless the user explicitly asked to change something.",
			"ユーザーは概要/診断を求めています。診断結果を使って、分かりやすい所見と次の確認質問を返してください。明示的な変更依頼がない限り type='finish' または type='ask' を優先してください。",
		),
	}
}
