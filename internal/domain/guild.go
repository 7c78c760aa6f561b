package domain

// Language язык ответов гильдии.
type Language string

const (
	LangEN Language = "en"
	LangJA Language = "ja"
)

// T выбирает строку по языку (en по умолчанию).
func (l Language) T(en, ja string) string {
	if l == LangJA {
		return ja
	}
	return en
}

// Флаги гильдий, которыми управляет оператор из консоли.
const (
	FlagPaused = "paused"  // kill switch: ходы гильдии отклоняются до планирования
	FlagDryRun = "dry_run" // песочница: мутации только имитируются
)

// GuildSettings настройки гильдии, которые читает ядро.
type GuildSettings struct {
	GuildID         string   `json:"guild_id"`
	Language        Language `json:"language"`
	RateLimitPerMin int      `json:"rate_limit_per_min"`
	LogChannelID    string   `json:"log_channel_id,omitempty"`
	ManagerRoleID   string   `json:"manager_role_id,omitempty"`
}

// DefaultGuildSettings значения для гильдии без сохраненных настроек.
func DefaultGuildSettings(guildID string) GuildSettings {
	return GuildSettings{
		GuildID:         guildID,
		Language:        LangEN,
		RateLimitPerMin: DefaultRateLimitPerMin,
	}
}

// Channel, Role и Member — снимки сущностей гильдии, которые возвращает платформа.
type Channel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Member struct {
	ID      string   `json:"id"`
	Tag     string   `json:"tag"`
	RoleIDs []string `json:"role_ids,omitempty"`
}

// HasRole сообщает, выдана ли участнику роль.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
