package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrToolNotFound = errors.New("tool not found")

// ValidationError параметр отсутствует или имеет неверный тип.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("invalid param %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid param %q: %s", e.Action, e.Field, e.Reason)
}

// GetString достает непустую строку (число приводится к строке: модели отдают id числом).
// json.Number отдается исходным текстом, без округления через float64.
func GetString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func GetInt(params map[string]any, key string) (int, bool) {
	switch t := params[key].(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func GetBool(params map[string]any, key string) bool {
	switch t := params[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

// GetStrings достает список строк; нестроковые элементы пропускаются.
func GetStrings(params map[string]any, key string) []string {
	switch t := params[key].(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
