package plan

/*
Файл normalizer.go превращает сырой ответ модели в валидный AgentStep.

Принцип fail-closed: любой мусор на входе (пустая строка, обрезанный JSON, markdown,
нарушение схемы) деградирует до Finish с fallback-ответом. Функция никогда не паникует
и не возвращает ошибку — ошибки бывают только у транспорта (см. planner.go).
*/

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

const (
	DefaultFallbackReply = "Failed to interpret the request. Please rephrase."
	maxTextReplyChars    = 1200
)

// Options управляет поведением нормализатора.
type Options struct {
	FallbackReply     string
	AllowTextFallback bool
}

func (o Options) fallback() string {
	if strings.TrimSpace(o.FallbackReply) == "" {
		return DefaultFallbackReply
	}
	return o.FallbackReply
}

// Normalize разбирает ответ модели. Результат всегда структурно валиден.
func Normalize(raw string, opts Options) domain.AgentStep {
	parsed, ok := parseLenient(raw)
	if !ok {
		return textFallback(raw, opts)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return domain.Finish(opts.fallback())
	}
	return fromObject(obj, opts)
}

// parseLenient: сначала строгий разбор, затем первый сбалансированный {...}.
func parseLenient(raw string) (any, bool) {
	if v, err := decodeNumbers(raw); err == nil {
		return v, true
	}
	candidate := extractFirstObject(raw)
	if candidate == "" {
		return nil, false
	}
	v, err := decodeNumbers(candidate)
	if err != nil {
		return nil, false
	}
	return v, true
}

// decodeNumbers разбирает ровно одно JSON-значение, числа остаются json.Number.
func decodeNumbers(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// maxExactFloat граница, до которой целое переживает float64 без потерь.
const maxExactFloat = 1 << 53

// plainNumbers возвращает числам в params привычный float64. Целые шире
// float64 (snowflake-id) остаются строкой с исходным текстом.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			if n > maxExactFloat || n < -maxExactFloat {
				return t.String()
			}
			return float64(n)
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return t.String()
		}
		if f == math.Trunc(f) && !strings.ContainsAny(t.String(), ".eE") {
			return t.String()
		}
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = plainNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = plainNumbers(item)
		}
		return t
	}
	return v
}

// extractFirstObject находит первый сбалансированный JSON-объект, учитывая строки и экранирование.
func extractFirstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func textFallback(raw string, opts Options) domain.AgentStep {
	if !opts.AllowTextFallback {
		return domain.Finish(opts.fallback())
	}
	trimmed := strings.TrimSpace(raw)
	looksStructured := strings.HasPrefix(trimmed, "```") || strings.ContainsAny(trimmed, "{}[]")
	if looksStructured || trimmed == "" {
		return domain.Finish(opts.fallback())
	}
	return domain.Finish(truncateRunes(trimmed, maxTextReplyChars))
}

func fromObject(obj map[string]any, opts Options) domain.AgentStep {
	reply := stringField(obj, "reply")
	stepType := strings.ToLower(stringField(obj, "type"))

	switch domain.StepType(stepType) {
	case domain.StepFinish:
		if reply == "" {
			return domain.Finish(opts.fallback())
		}
		return domain.Finish(reply)

	case domain.StepAsk:
		question := stringField(obj, "question")
		if question == "" {
			question = reply
		}
		if question == "" {
			return domain.Finish(opts.fallback())
		}
		return domain.Ask(question)

	case domain.StepObserve:
		action, ok := normalizeAction(obj)
		if !ok || action.Action == domain.ActionNone {
			return finishWith(reply, opts)
		}
		return domain.Observe(action.Action, action.Params)

	case domain.StepAct:
		return actFrom(obj, reply, opts)

	case "":
		// Старый формат без дискриминатора: {action, params, destructive, reply} или {actions: [...]}.
		if _, hasAction := obj["action"]; !hasAction {
			if _, hasActions := obj["actions"]; !hasActions {
				if q := stringField(obj, "question"); q != "" {
					return domain.Ask(q)
				}
				return finishWith(reply, opts)
			}
		}
		return actFrom(obj, reply, opts)
	}

	return domain.Finish(opts.fallback())
}

func actFrom(obj map[string]any, reply string, opts Options) domain.AgentStep {
	var actions []domain.PlannedAction
	if list, ok := obj["actions"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if a, ok := normalizeAction(m); ok {
				actions = append(actions, a)
			}
		}
	}
	if len(actions) == 0 {
		if primary, ok := normalizeAction(obj); ok {
			actions = append(actions, primary)
		}
	}

	filtered := actions[:0]
	for _, a := range actions {
		if a.Action != domain.ActionNone {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		return finishWith(reply, opts)
	}
	return domain.Act(filtered, reply)
}

func normalizeAction(m map[string]any) (domain.PlannedAction, bool) {
	name, ok := m["action"].(string)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return domain.PlannedAction{}, false
	}
	params, ok := m["params"].(map[string]any)
	if !ok {
		params = map[string]any{}
	}
	plainNumbers(params)
	destructive, _ := m["destructive"].(bool)
	return domain.PlannedAction{Action: name, Params: params, Destructive: destructive}, true
}

func finishWith(reply string, opts Options) domain.AgentStep {
	if reply == "" {
		return domain.Finish(opts.fallback())
	}
	return domain.Finish(reply)
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
