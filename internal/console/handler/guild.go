package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/guildops-agent/internal/console/service"
)

type GuildHandler struct {
	service *service.GuildService
}

func NewGuildHandler(s *service.GuildService) *GuildHandler {
	return &GuildHandler{service: s}
}

func (h *GuildHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.apply(w, h.service.Pause(r.Context(), chi.URLParam(r, "id")))
}

func (h *GuildHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.apply(w, h.service.Resume(r.Context(), chi.URLParam(r, "id")))
}

type DryRunRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *GuildHandler) SetDryRun(w http.ResponseWriter, r *http.Request) {
	var req DryRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.apply(w, h.service.SetDryRun(r.Context(), chi.URLParam(r, "id"), req.Enabled))
}

func (h *GuildHandler) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	h.apply(w, h.service.ReloadSettings(r.Context(), chi.URLParam(r, "id")))
}

func (h *GuildHandler) apply(w http.ResponseWriter, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
