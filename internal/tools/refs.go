package tools

import "regexp"

var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	digitsRe         = regexp.MustCompile(`^\d+$`)
)

func extractID(value string, re *regexp.Regexp) string {
	if m := re.FindStringSubmatch(value); len(m) > 1 {
		return m[1]
	}
	if digitsRe.MatchString(value) {
		return value
	}
	return ""
}

// UserID извлекает id из "<@123>", "<@!123>" или "123".
func UserID(value string) string { return extractID(value, userMentionRe) }

// RoleID извлекает id из "<@&123>" или "123".
func RoleID(value string) string { return extractID(value, roleMentionRe) }

// ChannelID извлекает id из "<#123>" или "123".
func ChannelID(value string) string { return extractID(value, channelMentionRe) }

// ChannelRef ссылка на канал из параметров действия (id приоритетнее имени).
type ChannelRef struct {
	ID   string
	Name string
}

func (r ChannelRef) IsZero() bool { return r.ID == "" && r.Name == "" }

type RoleRef struct {
	ID   string
	Name string
}

func (r RoleRef) IsZero() bool { return r.ID == "" && r.Name == "" }

// ChannelRefFrom читает channel_id / channel_name.
func ChannelRefFrom(params map[string]any) ChannelRef {
	var ref ChannelRef
	if raw, ok := GetString(params, "channel_id"); ok {
		ref.ID = ChannelID(raw)
		if ref.ID == "" {
			ref.ID = raw
		}
	}
	ref.Name, _ = GetString(params, "channel_name")
	return ref
}

// RoleRefFrom читает role_id / role_name.
func RoleRefFrom(params map[string]any) RoleRef {
	var ref RoleRef
	if raw, ok := GetString(params, "role_id"); ok {
		ref.ID = RoleID(raw)
		if ref.ID == "" {
			ref.ID = raw
		}
	}
	ref.Name, _ = GetString(params, "role_name")
	return ref
}

// MemberIDFrom читает user_id, затем user_mention.
func MemberIDFrom(params map[string]any) string {
	if raw, ok := GetString(params, "user_id"); ok {
		if id := UserID(raw); id != "" {
			return id
		}
	}
	if raw, ok := GetString(params, "user_mention"); ok {
		if id := UserID(raw); id != "" {
			return id
		}
	}
	if raw, ok := GetString(params, "user_id"); ok {
		return raw
	}
	return ""
}
