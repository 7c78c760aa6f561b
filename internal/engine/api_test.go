package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/agent"
)

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const turnBody = `{"guild_id":"g1","thread_id":"t-1","actor_id":"300","actor_tag":"owner#0001","content":"delete the announcements channel"}`

func TestAPI_HealthIsPublic(t *testing.T) {
	api := NewAPI(newStack(t, finishHello).gateway, testTokens, zap.NewNop())
	rec := do(t, api, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Auth(t *testing.T) {
	api := NewAPI(newStack(t, finishHello).gateway, testTokens, zap.NewNop())

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "Bearer forged", http.StatusUnauthorized},
		{"scope missing", "Bearer reader", http.StatusForbidden},
		{"transport", "Bearer transport", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/v1/turns", tt.token, turnBody)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPI_TurnAndConfirm(t *testing.T) {
	api := NewAPI(newStack(t, deleteAnnounce).gateway, testTokens, zap.NewNop())

	rec := do(t, api, http.MethodPost, "/v1/turns", "Bearer transport", turnBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))

	var res agent.TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, agent.OutcomeDeferred, res.Outcome)
	assert.Contains(t, res.Reply, "Removing it.")

	path := "/v1/confirmations/" + res.ConfirmationID + "/confirm"
	rec = do(t, api, http.MethodPost, path, "Bearer transport", `{"guild_id":"g1","actor_id":"300","thread_id":"t-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out ResolveOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out.Message, "Done:")
	assert.False(t, out.Ephemeral)
}

func TestAPI_BadRequests(t *testing.T) {
	api := NewAPI(newStack(t, finishHello).gateway, testTokens, zap.NewNop())

	rec := do(t, api, http.MethodPost, "/v1/turns", "Bearer transport", `{"guild_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodPost, "/v1/turns", "Bearer transport", `{"guild_id":"g1","content":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodPost, "/v1/confirmations/r1/reject", "Bearer transport", `{"guild_id":"g1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_TraceIDIsPropagated(t *testing.T) {
	api := NewAPI(newStack(t, finishHello).gateway, testTokens, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "from-transport")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, "from-transport", rec.Header().Get("X-Trace-ID"))
}
