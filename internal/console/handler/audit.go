package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger}
}

// GetLogs — GET /v1/audit?guild_id=...&action=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	logs, err := h.service.FetchLogs(r.Context(), audit.Filter{
		GuildID: q.Get("guild_id"),
		Action:  q.Get("action"),
		Limit:   limit,
	})
	if err != nil {
		h.logger.Error("fetch audit logs failed", zap.Error(err))
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
