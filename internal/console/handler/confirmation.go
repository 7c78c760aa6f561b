package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/console/service"
	"github.com/xela07ax/guildops-agent/internal/domain"
)

type ConfirmationHandler struct {
	service *service.ConfirmationService
	logger  *zap.Logger
}

func NewConfirmationHandler(s *service.ConfirmationService, logger *zap.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{service: s, logger: logger}
}

func (h *ConfirmationHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrRecordNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get confirmation record failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List — GET /v1/confirmations?status=pending&guild_id=...
func (h *ConfirmationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	list, err := h.service.List(r.Context(), q.Get("guild_id"), q.Get("status"), limit)
	if errors.Is(err, service.ErrBadFilter) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("list confirmation records failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
