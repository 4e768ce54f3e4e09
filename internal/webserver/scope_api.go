package webserver

import (
	"net/http"
	"strconv"

	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/settings"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type messageRequest struct {
	MemberID int64    `json:"member_id"`
	At       *float64 `json:"at"`
}

type rolesRequest struct {
	Roles []int64 `json:"roles"`
}

// handleMessage はチャット発言をアクティブなイベントへ加算する
func (api *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	at := api.Service.Now()
	if req.At != nil {
		at = giveaway.FromUnixSeconds(*req.At)
	}
	credited := api.Service.RecordMessage(r.Context(), scopeID, req.MemberID, at)
	writeJSON(w, http.StatusOK, map[string]int{"credited": credited})
}

func (api *API) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}
	memberID, ok := pathInt(w, r, "member")
	if !ok {
		return
	}
	var req rolesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	api.Members.SetRoles(scopeID, memberID, req.Roles)
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}

	gs, err := api.Settings.GetGuildSettings(scopeID)
	if err != nil {
		logger.Error("Failed to get guild settings", zap.Int64("scope_id", scopeID), zap.Error(err))
		http.Error(w, "Failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

func (api *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}
	var gs types.GuildSettings
	if !decodeBody(w, r, &gs) {
		return
	}
	gs.ScopeID = scopeID

	if err := settings.ValidateGuildSettings(gs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := api.Settings.UpdateGuildSettings(gs); err != nil {
		http.Error(w, "Failed to update settings", http.StatusInternalServerError)
		return
	}

	saved, err := api.Settings.GetGuildSettings(scopeID)
	if err != nil {
		http.Error(w, "Failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (api *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	history, err := api.History.GetDrawHistory(scopeID, limit)
	if err != nil {
		logger.Error("Failed to get draw history", zap.Int64("scope_id", scopeID), zap.Error(err))
		http.Error(w, "Failed to get history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []types.DrawHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}
