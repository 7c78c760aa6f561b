package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// SlackSink публикует события в лог-канал операторов через incoming webhook.
type SlackSink struct {
	webhookURL string
}

func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL}
}

func (s *SlackSink) WriteBatch(ctx context.Context, events []AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, FormatLine(e))
	}
	msg := &slack.WebhookMessage{Text: strings.Join(lines, "\n\n")}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("audit: slack webhook: %w", err)
	}
	return nil
}

// FormatLine — текст события для лог-канала.
func FormatLine(e AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* by %s\nstatus: %s | confirmation: %s", e.Action, e.ActorTag, e.Status, e.Confirmation)
	if e.Mode == ModeDryRun {
		b.WriteString(" | dry-run")
	}
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
	}
	return b.String()
}
