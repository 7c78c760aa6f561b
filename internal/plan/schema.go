package plan

import (
	"strings"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// StepSchema — JSON-схема шага, которую адаптеры модели передают провайдеру как подсказку формата.
var StepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"type":     map[string]any{"type": "string", "enum": []any{"observe", "act", "ask", "finish"}},
		"action":   map[string]any{"type": "string"},
		"params":   map[string]any{"type": "object"},
		"reply":    map[string]any{"type": "string"},
		"question": map[string]any{"type": "string"},
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":      map[string]any{"type": "string"},
					"params":      map[string]any{"type": "object"},
					"destructive": map[string]any{"type": "boolean"},
				},
				"required": []any{"action", "params"},
			},
		},
	},
	"required": []any{"type"},
}

// StricterInstruction добавляется при повторном запросе после сбоя транспорта.
const StricterInstruction = "Return only valid JSON that matches the schema. No markdown or extra text."

// SystemPrompt собирает системный промпт агента.
func SystemPrompt(lang domain.Language) string {
	lines := []string{
		"You are a server management assistant operating inside a chat thread.",
		"Return ONLY JSON that matches the provided schema.",
		`Use type="observe" with one read-only action to look things up before changing them.`,
		`Use type="act" with "actions" to change things, type="ask" to request clarification, type="finish" when done.`,
		"Allowed actions: " + strings.Join(domain.AllowedActionNames(), ", ") + ".",
		"Never output banned actions: " + strings.Join(domain.BannedActionNames(), ", ") + ".",
		"Set destructive=true if the action deletes, revokes access, or could cause irreversible change.",
		"Never invent ids; observe first when you only know a name.",
		"Always keep reply concise and user-facing.",
	}
	if lang == domain.LangJA {
		lines = append(lines, "Reply in Japanese.")
	}
	return strings.Join(lines, "\n")
}
