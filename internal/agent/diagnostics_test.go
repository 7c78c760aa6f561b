package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

func TestDetectDiagnosticsTopic(t *testing.T) {
	cases := []struct {
		text  string
		lang  domain.Language
		topic DiagnosticsTopic
		ok    bool
	}{
		{"what's wrong with our roles?", domain.LangEN, TopicRoles, true},
		{"check channel permissions", domain.LangEN, TopicPermissions, true},
		{"how are the channels organized", domain.LangEN, TopicChannels, true},
		{"any problems?", domain.LangEN, TopicOverview, true},
		{"overview", domain.LangEN, TopicOverview, true},
		{"delete the general channel", domain.LangEN, "", false},
		{"create a role", domain.LangEN, "", false},
		{"hello there", domain.LangEN, "", false},
		{"", domain.LangEN, "", false},
		{"ロールを確認して", domain.LangJA, TopicRoles, true},
		{"全体", domain.LangJA, TopicOverview, true},
		{"チャンネルを作成して", domain.LangJA, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			topic, ok := DetectDiagnosticsTopic(tc.text, tc.lang)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.topic, topic)
		})
	}
}
