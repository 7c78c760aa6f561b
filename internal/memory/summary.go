// Package memory ведет короткий журнал треда: что просили и чем закончилось.
package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

const (
	maxRequestChars = 200
	maxOutcomeChars = 180
	maxOutcomeIDs   = 6
	minRequestChars = 4
)

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{10,}`), "[REDACTED]"},
	{regexp.MustCompile(`xai-[A-Za-z0-9_-]{10,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)api[_-]?key[:= ]+[A-Za-z0-9_-]{8,}`), "api_key=[REDACTED]"},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Подтверждения и короткие реплики в журнал не попадают.
var acknowledgements = map[string]bool{
	"ok": true, "thanks": true, "thx": true, "yes": true, "no": true,
	"了解": true, "ありがとう": true, "はい": true, "いいえ": true, "うん": true, "okです": true,
}

// Redact вырезает ключи провайдеров моделей.
func Redact(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SummarizeRequest строит строку "User request: ..." или возвращает false для реплик без содержания.
func SummarizeRequest(text string, lang domain.Language) (string, bool) {
	trimmed := Redact(collapse(text))
	if len([]rune(trimmed)) < minRequestChars || acknowledgements[strings.ToLower(trimmed)] {
		return "", false
	}
	snippet := cut(trimmed, maxRequestChars)
	return lang.T("User request: "+snippet, "依頼: "+snippet), true
}

// ShouldRemember — наблюдения и "none" в журнал не пишем.
func ShouldRemember(action string) bool {
	return action != domain.ActionNone && !domain.IsObservationAction(action)
}

// SummarizeOutcomes строит строки исходов мутаций. false, если запоминать нечего.
func SummarizeOutcomes(results []domain.ActionResult, lang domain.Language, now time.Time) (string, bool) {
	stamp := now.UTC().Format("2006-01-02 15:04:05")
	okText := lang.T("OK", "成功")
	failText := lang.T("Failed", "失敗")

	var lines []string
	for _, r := range results {
		if !ShouldRemember(r.Action) {
			continue
		}
		status := failText
		if r.OK {
			status = okText
		}
		ids := r.EntityIDs
		if len(ids) > maxOutcomeIDs {
			ids = ids[:maxOutcomeIDs]
		}
		idText := ""
		if len(ids) > 0 {
			idText = " ids=" + strings.Join(ids, ",")
		}
		// Ответ инструмента может эхом вернуть токен из запроса
		msg := cut(Redact(whitespaceRe.ReplaceAllString(r.Message, " ")), maxOutcomeChars)
		lines = append(lines, strings.TrimSpace(fmt.Sprintf("- [%s] %s: %s%s %s", stamp, r.Action, status, idText, msg)))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}
