package domain

import (
	"errors"
	"time"
)

// Состояния подтверждения (State Machine): pending -> {approved, rejected}.
type ConfirmationStatus string

const (
	ConfirmationNone     ConfirmationStatus = "none"
	ConfirmationPending  ConfirmationStatus = "pending"
	ConfirmationApproved ConfirmationStatus = "approved"
	ConfirmationRejected ConfirmationStatus = "rejected"
)

// RecordStatus итог исполнения записи.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordSuccess RecordStatus = "success"
	RecordFailure RecordStatus = "failure"
)

var (
	ErrInvalidTransition = errors.New("invalid confirmation status transition")
	ErrAlreadyResolved   = errors.New("confirmation already resolved")
	ErrNotOwner          = errors.New("only the requester can resolve this confirmation")
	ErrRecordNotFound    = errors.New("confirmation record not found")
)

// RequestPayload исходный запрос, сохраненный вместе с записью.
type RequestPayload struct {
	Action   string          `json:"action"`
	Params   map[string]any  `json:"params"`
	Actions  []PlannedAction `json:"actions,omitempty"`
	RawText  string          `json:"raw_text,omitempty"`
	ThreadID string          `json:"thread_id,omitempty"`
}

// ResultPayload агрегированный результат исполнения.
type ResultPayload struct {
	OK        bool     `json:"ok"`
	Message   string   `json:"message"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

type RecordPayload struct {
	Request RequestPayload `json:"request"`
	Impact  Impact         `json:"impact"`
	Result  *ResultPayload `json:"result,omitempty"`
}

// ConfirmationRecord запись журнала подтверждений (она же аудит-след).
// После перехода в терминальное состояние запись не изменяется.
type ConfirmationRecord struct {
	ID                   string             `json:"id"`
	Action               string             `json:"action"`
	ActorID              string             `json:"actor_id"`
	GuildID              string             `json:"guild_id"`
	TargetID             *string            `json:"target_id,omitempty"`
	Payload              RecordPayload      `json:"payload"`
	ConfirmationRequired bool               `json:"confirmation_required"`
	ConfirmationStatus   ConfirmationStatus `json:"confirmation_status"`
	Status               RecordStatus       `json:"status"`
	ErrorMessage         *string            `json:"error_message,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// PlannedActions восстанавливает список действий записи (включая записи старого формата с одним действием).
func (r *ConfirmationRecord) PlannedActions() []PlannedAction {
	src := r.Payload.Request.Actions
	if len(src) == 0 {
		action := r.Payload.Request.Action
		if action == "" {
			action = r.Action
		}
		src = []PlannedAction{{Action: action, Params: r.Payload.Request.Params}}
	}
	out := make([]PlannedAction, 0, len(src))
	for _, a := range src {
		if a.Action == "" {
			continue
		}
		if a.Params == nil {
			a.Params = map[string]any{}
		}
		out = append(out, a)
	}
	return out
}

// IsOwnedBy: подтверждать может только автор запроса и только из исходного треда.
func (r *ConfirmationRecord) IsOwnedBy(actorID, threadID string) bool {
	return r.ActorID == actorID && r.Payload.Request.ThreadID == threadID
}

// CanTransitionTo проверяет правила конечного автомата
func (r *ConfirmationRecord) CanTransitionTo(next ConfirmationStatus) error {
	if r.ConfirmationStatus != ConfirmationPending {
		return ErrAlreadyResolved
	}
	if next != ConfirmationApproved && next != ConfirmationRejected {
		return ErrInvalidTransition
	}
	return nil
}

// IsTerminal сообщает, что запись больше не может менять состояние.
func (r *ConfirmationRecord) IsTerminal() bool {
	return r.Status != RecordPending
}

// ConfirmationFilter параметры выборки записей журнала.
type ConfirmationFilter struct {
	GuildID            string
	ConfirmationStatus ConfirmationStatus
	Limit              int
}

// Transition условное обновление записи (compare-and-swap): применяется только если
// запись все еще в состоянии From*. Иначе хранилище возвращает ErrAlreadyResolved.
type Transition struct {
	FromConfirmation ConfirmationStatus
	FromStatus       RecordStatus
	Confirmation     ConfirmationStatus
	Status           RecordStatus
	ErrorMessage     *string
	Result           *ResultPayload
}
