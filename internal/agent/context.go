package agent

import (
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

const (
	minContextBudget = 2000
	perMessageCost   = 12
)

// HistoryMessage сообщение треда в хронологическом порядке, как его передает транспорт.
type HistoryMessage struct {
	FromBot        bool   `json:"from_bot"`
	Content        string `json:"content"`
	HasAttachments bool   `json:"has_attachments,omitempty"`
}

// ContextConfig бюджет контекста модели.
type ContextConfig struct {
	MaxChars   int
	MinHistory int
}

// SystemContent системный промпт плюс память треда как исходный запрос.
func SystemContent(prompt, summary string, lang domain.Language) string {
	if strings.TrimSpace(summary) == "" {
		return prompt
	}
	return prompt + "\n" + lang.T("Initial request", "初期依頼") + ": " + summary
}

// BuildContext собирает сообщения для модели: системное, затем история от новых к старым
// в пределах бюджета. Последние MinHistory сообщений берутся всегда.
func BuildContext(system string, history []HistoryMessage, lang domain.Language, cfg ContextConfig) []domain.ChatMessage {
	budget := cfg.MaxChars - len([]rune(system))
	if budget < minContextBudget {
		budget = minContextBudget
	}
	note := lang.T("[attachments omitted]", "[添付は省略]")

	remaining := budget
	selected := make([]int, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		recent := len(history)-i <= cfg.MinHistory
		content := msg.Content
		if msg.HasAttachments {
			content += " " + note
		}
		content = strings.TrimSpace(content)
		cost := len([]rune(content)) + perMessageCost

		if content == "" && !recent {
			continue
		}
		if recent || remaining-cost > 0 {
			selected = append(selected, i)
			remaining -= cost
		}
		if !recent && remaining <= 0 {
			break
		}
	}

	out := make([]domain.ChatMessage, 0, len(selected)+1)
	out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for j := len(selected) - 1; j >= 0; j-- {
		msg := history[selected[j]]
		role := domain.RoleUser
		if msg.FromBot {
			role = domain.RoleAssistant
		}
		content := msg.Content
		if strings.TrimSpace(content) == "" && msg.HasAttachments {
			content = note
		}
		out = append(out, domain.ChatMessage{Role: role, Content: content})
	}
	return out
}

// insertAfterSystem вставляет сообщение сразу после системного промпта.
func insertAfterSystem(messages []domain.ChatMessage, msg domain.ChatMessage) []domain.ChatMessage {
	if len(messages) == 0 {
		return []domain.ChatMessage{msg}
	}
	out := make([]domain.ChatMessage, 0, len(messages)+1)
	out = append(out, messages[0], msg)
	return append(out, messages[1:]...)
}
