package audit

import (
	"time"

	"github.com/google/uuid"
)

// maxMessageChars сообщения длиннее обрезаются: лог-канал не принимает простыни.
const maxMessageChars = 900

const (
	ModeLive   = "live"
	ModeDryRun = "dry_run"
)

// AuditEvent уведомление о терминальном (или ожидающем) исходе действия.
type AuditEvent struct {
	ID           string    `json:"id"`        // UUID события
	TraceID      string    `json:"trace_id"`  // Сквозной ID хода
	RecordID     string    `json:"record_id"` // Запись журнала подтверждений, если есть
	GuildID      string    `json:"guild_id"`
	ActorID      string    `json:"actor_id"`
	ActorTag     string    `json:"actor_tag"`
	Action       string    `json:"action"`       // Действие, "batch" или код отказа (rate_limit, ...)
	Status       string    `json:"status"`       // pending, success, failure
	Confirmation string    `json:"confirmation"` // none, pending, approved, rejected
	Message      string    `json:"message"`
	Mode         string    `json:"mode"` // live или dry_run
	Timestamp    time.Time `json:"timestamp"`
}

// Normalize проставляет ID, время и режим, обрезает сообщение.
func (e AuditEvent) Normalize() AuditEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Mode == "" {
		e.Mode = ModeLive
	}
	if r := []rune(e.Message); len(r) > maxMessageChars {
		e.Message = string(r[:maxMessageChars])
	}
	return e
}

// Filter выборка журнала аудита для консоли.
type Filter struct {
	GuildID string
	Action  string
	Limit   int
}
