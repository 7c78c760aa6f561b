package domain

import (
	"strings"
	"time"
)

// MaxSummaryChars бюджет памяти треда; старое содержимое отбрасывается с головы.
const MaxSummaryChars = 1800

// ThreadMemory журнал прошлых запросов и исходов в рамках одного треда.
type ThreadMemory struct {
	ThreadID    string    `json:"thread_id"`
	GuildID     string    `json:"guild_id"`
	OwnerUserID string    `json:"owner_user_id"`
	Summary     string    `json:"summary"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActionResult исход одного действия в рамках хода.
type ActionResult struct {
	Action    string   `json:"action"`
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Data      any      `json:"data,omitempty"`
}

// AppendSummary дописывает строку к журналу треда и обрезает его с головы до MaxSummaryChars.
func AppendSummary(current, add string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{strings.TrimSpace(current), strings.TrimSpace(add)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	next := strings.Join(parts, "\n")
	if r := []rune(next); len(r) > MaxSummaryChars {
		next = string(r[len(r)-MaxSummaryChars:])
	}
	return next
}
