package agent

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

func TestSystemContent(t *testing.T) {
	assert.Equal(t, "PROMPT", SystemContent("PROMPT", "  ", domain.LangEN))
	assert.Equal(t, "PROMPT\nInitial request: - make roles", SystemContent("PROMPT", "- make roles", domain.LangEN))
	assert.Equal(t, "PROMPT\n初期依頼: x", SystemContent("PROMPT", "x", domain.LangJA))
}

func TestBuildContext_KeepsChronologicalOrder(t *testing.T) {
	history := []HistoryMessage{
		{Content: "create a role"},
		{FromBot: true, Content: "Which name?"},
		{Content: "Archive"},
	}
	got := BuildContext("SYS", history, domain.LangEN, ContextConfig{MaxChars: 7000, MinHistory: 8})

	want := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "SYS"},
		{Role: domain.RoleUser, Content: "create a role"},
		{Role: domain.RoleAssistant, Content: "Which name?"},
		{Role: domain.RoleUser, Content: "Archive"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildContext_BudgetDropsOldestButKeepsRecent(t *testing.T) {
	var history []HistoryMessage
	for i := 0; i < 20; i++ {
		history = append(history, HistoryMessage{Content: strings.Repeat("a", 400)})
	}
	// Бюджет 2000 (минимум): 412 на сообщение
	got := BuildContext("SYS", history, domain.LangEN, ContextConfig{MaxChars: 100, MinHistory: 8})
	require.Len(t, got, 1+8)

	// Последние три всегда берутся даже сверх бюджета
	got = BuildContext("SYS", history, domain.LangEN, ContextConfig{MaxChars: 100, MinHistory: 3})
	assert.Len(t, got, 1+4)
}

func TestBuildContext_SkipsEmptyOldMessagesAndNotesAttachments(t *testing.T) {
	history := []HistoryMessage{
		{Content: ""},
		{Content: "old"},
		{Content: "", HasAttachments: true},
		{Content: "latest"},
	}
	got := BuildContext("SYS", history, domain.LangEN, ContextConfig{MaxChars: 7000, MinHistory: 2})

	want := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "SYS"},
		{Role: domain.RoleUser, Content: "old"},
		{Role: domain.RoleUser, Content: "[attachments omitted]"},
		{Role: domain.RoleUser, Content: "latest"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}
}
