package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

var textOpts = Options{FallbackReply: "fallback", AllowTextFallback: true}

func TestNormalize_NeverFailsOnMalformedInput(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"{",
		`{"type":"act","actions":[{"action":`,
		"[]",
		"[1,2,3]",
		"null",
		"42",
		`"just a string"`,
		"```json\n{\"type\":\"finish\"}\n```",
		`{"type":"explode"}`,
		`{"type":"act","actions":"not-a-list"}`,
		`{"type":"observe","params":{}}`,
		`{"type":123}`,
		"}{",
		`{"a":"}"`,
	}
	for _, in := range inputs {
		step := Normalize(in, textOpts)
		assertValidStep(t, step, in)
	}
}

func assertValidStep(t *testing.T, step domain.AgentStep, input string) {
	t.Helper()
	switch step.Type {
	case domain.StepObserve:
		assert.NotEmpty(t, step.Action, "input %q", input)
	case domain.StepAct:
		assert.NotEmpty(t, step.Actions, "input %q", input)
	case domain.StepAsk:
		assert.NotEmpty(t, step.Question, "input %q", input)
	case domain.StepFinish:
		assert.NotEmpty(t, step.Reply, "input %q", input)
	default:
		t.Fatalf("input %q produced unknown step type %q", input, step.Type)
	}
}

func TestNormalize_StrictJSON(t *testing.T) {
	step := Normalize(`{"type":"observe","action":"list_channels","params":{"limit":5}}`, textOpts)
	require.Equal(t, domain.StepObserve, step.Type)
	assert.Equal(t, "list_channels", step.Action)
	assert.Equal(t, float64(5), step.Params["limit"])
}

func TestNormalize_KeepsSnowflakeIDsExact(t *testing.T) {
	raw := `{"type":"act","actions":[{"action":"delete_channel","destructive":true,` +
		`"params":{"channel_id":1234567890123456789,"user_limit":10,"bitrate":64000.5}}]}`
	step := Normalize(raw, textOpts)
	require.Equal(t, domain.StepAct, step.Type)
	require.Len(t, step.Actions, 1)
	params := step.Actions[0].Params

	assert.Equal(t, "1234567890123456789", tools.ChannelRefFrom(params).ID)
	limit, ok := tools.GetInt(params, "user_limit")
	require.True(t, ok)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 64000.5, params["bitrate"])

	// Тот же объект внутри прозы.
	step = Normalize("plan: "+raw+" thanks", textOpts)
	require.Equal(t, domain.StepAct, step.Type)
	assert.Equal(t, "1234567890123456789", tools.ChannelRefFrom(step.Actions[0].Params).ID)
}

func TestNormalize_ExtractsFirstBalancedObject(t *testing.T) {
	raw := "Sure! Here is the plan:\n```json\n{\"type\":\"finish\",\"reply\":\"done {ok}\"}\n```\nand {\"type\":\"ask\"}"
	step := Normalize(raw, textOpts)
	require.Equal(t, domain.StepFinish, step.Type)
	assert.Equal(t, "done {ok}", step.Reply)
}

func TestNormalize_TextFallback(t *testing.T) {
	step := Normalize("The channel list looks fine to me.", textOpts)
	require.Equal(t, domain.StepFinish, step.Type)
	assert.Equal(t, "The channel list looks fine to me.", step.Reply)

	long := strings.Repeat("a", 1500)
	step = Normalize(long, textOpts)
	assert.Len(t, step.Reply, 1200)

	step = Normalize("list: [a, b]", textOpts)
	assert.Equal(t, "fallback", step.Reply)

	step = Normalize("plain text", Options{})
	assert.Equal(t, DefaultFallbackReply, step.Reply)
}

func TestNormalize_LegacySingleAction(t *testing.T) {
	raw := `{"action":"delete_channel","params":{"channel_name":"general"},"destructive":true,"reply":"Deleting."}`
	step := Normalize(raw, textOpts)
	require.Equal(t, domain.StepAct, step.Type)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, "delete_channel", step.Actions[0].Action)
	assert.True(t, step.Actions[0].Destructive)
	assert.Equal(t, "general", step.Actions[0].Params["channel_name"])
	assert.Equal(t, "Deleting.", step.Reply)
}

func TestNormalize_LegacyNoneBecomesFinish(t *testing.T) {
	step := Normalize(`{"action":"none","params":{},"destructive":false,"reply":"Nothing to do."}`, textOpts)
	require.Equal(t, domain.StepFinish, step.Type)
	assert.Equal(t, "Nothing to do.", step.Reply)
}

func TestNormalize_ActDropsNoneAndInvalidItems(t *testing.T) {
	raw := `{"type":"act","reply":"ok","actions":[{"action":"none"},{"params":{}},"junk",{"action":"create_role","params":"bad"}]}`
	step := Normalize(raw, textOpts)
	require.Equal(t, domain.StepAct, step.Type)
	require.Len(t, step.Actions, 1)
	assert.Equal(t, "create_role", step.Actions[0].Action)
	assert.NotNil(t, step.Actions[0].Params)
	assert.False(t, step.Actions[0].Destructive)
}

func TestNormalize_AskAndFinish(t *testing.T) {
	step := Normalize(`{"type":"ask","question":"Which channel?"}`, textOpts)
	assert.Equal(t, domain.Ask("Which channel?"), step)

	step = Normalize(`{"type":"finish"}`, textOpts)
	assert.Equal(t, domain.Finish("fallback"), step)

	step = Normalize(`{"type":"unknown","reply":"x"}`, textOpts)
	assert.Equal(t, domain.Finish("fallback"), step)
}

func TestExtractFirstObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, extractFirstObject(`xx {"a":{"b":1}} {"c":2}`))
	assert.Equal(t, `{"s":"{\"}"}`, extractFirstObject(`{"s":"{\"}"} trailing`))
	assert.Equal(t, "", extractFirstObject(`{"open": true`))
	assert.Equal(t, "", extractFirstObject(`no braces`))
}
