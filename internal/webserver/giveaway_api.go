package webserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"go.uber.org/zap"
)

type requirementsRequest struct {
	Required          []int64 `json:"required"`
	Blacklist         []int64 `json:"blacklist"`
	Bypass            []int64 `json:"bypass"`
	MinActivityLevel  *int    `json:"min_activity_level"`
	MinWeeklyActivity *int    `json:"min_weekly_activity"`
	MinMessageCount   int     `json:"min_message_count"`
	// 省略時は true
	DefaultBlacklist *bool `json:"default_blacklist"`
	DefaultBypass    *bool `json:"default_bypass"`
}

func (r *requirementsRequest) toSet() giveaway.RequirementSet {
	if r == nil {
		return giveaway.RequirementSet{UseDefaultBlacklist: true, UseDefaultBypass: true}
	}
	return giveaway.RequirementSet{
		Required:            r.Required,
		Blacklist:           r.Blacklist,
		Bypass:              r.Bypass,
		MinActivityLevel:    r.MinActivityLevel,
		MinWeeklyActivity:   r.MinWeeklyActivity,
		MinMessageCount:     r.MinMessageCount,
		UseDefaultBlacklist: r.DefaultBlacklist == nil || *r.DefaultBlacklist,
		UseDefaultBypass:    r.DefaultBypass == nil || *r.DefaultBypass,
	}
}

// 時刻は UNIX 秒（小数可）
type createGiveawayRequest struct {
	ChannelID       int64                `json:"channel_id"`
	HostID          int64                `json:"host_id"`
	Prize           string               `json:"prize"`
	WinnerCount     *int                 `json:"winner_count"`
	StartsAt        *float64             `json:"starts_at"`
	EndsAt          *float64             `json:"ends_at"`
	DurationSeconds *float64             `json:"duration_seconds"`
	UniqueWinners   bool                 `json:"unique_winners"`
	Requirements    *requirementsRequest `json:"requirements"`
}

type memberRequest struct {
	MemberID int64 `json:"member_id"`
}

type endRequest struct {
	Reason string `json:"reason"`
}

type rerollRequest struct {
	Count int `json:"count"`
}

type giveawayDetail struct {
	giveaway.EventView
	Entrants []int64 `json:"entrants"`
}

// resultPayload は終了・キャンセル・再抽選の結果。HTTP と WebSocket で共通
type resultPayload struct {
	Event       giveaway.EventView    `json:"event"`
	Winners     []int64               `json:"winners"`
	WinnerTally []lottery.WinnerCount `json:"winner_tally"`
	Reason      string                `json:"reason"`
	Message     string                `json:"message"`
	Rerolled    bool                  `json:"rerolled"`
	Entrants    int                   `json:"entrants"`
	TotalWeight int                   `json:"total_weight"`
	EndedAt     time.Time             `json:"ended_at"`
}

func newResultPayload(view giveaway.EventView, result giveaway.EndResult) resultPayload {
	p := resultPayload{
		Event:       view,
		Winners:     result.Winners,
		WinnerTally: result.WinnerTally,
		Reason:      result.Reason,
		Message:     result.Message,
		Rerolled:    result.Rerolled,
		EndedAt:     result.EndedAt,
	}
	if p.Winners == nil {
		p.Winners = []int64{}
	}
	if p.WinnerTally == nil {
		p.WinnerTally = []lottery.WinnerCount{}
	}
	if result.Draw != nil {
		p.Entrants = result.Draw.TotalEntrants
		p.TotalWeight = result.Draw.TotalWeight
	}
	return p
}

func (api *API) handleCreateGiveaway(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}

	var req createGiveawayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prize == "" {
		http.Error(w, "prize is required", http.StatusBadRequest)
		return
	}

	startsAt := api.Service.Now()
	if req.StartsAt != nil {
		startsAt = giveaway.FromUnixSeconds(*req.StartsAt)
	}
	var endsAt time.Time
	switch {
	case req.EndsAt != nil:
		endsAt = giveaway.FromUnixSeconds(*req.EndsAt)
	case req.DurationSeconds != nil:
		endsAt = startsAt.Add(time.Duration(*req.DurationSeconds * float64(time.Second)))
	default:
		http.Error(w, "ends_at or duration_seconds is required", http.StatusBadRequest)
		return
	}
	winnerCount := 1
	if req.WinnerCount != nil {
		winnerCount = *req.WinnerCount
	}

	ev, err := api.Service.Create(r.Context(), giveaway.EventSpec{
		ScopeID:       scopeID,
		ChannelID:     req.ChannelID,
		HostID:        req.HostID,
		Prize:         req.Prize,
		WinnerCount:   winnerCount,
		Requirements:  req.Requirements.toSet(),
		StartsAt:      startsAt,
		EndsAt:        endsAt,
		UniqueWinners: req.UniqueWinners,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ev.View())
}

func (api *API) handleListGiveaways(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return
	}

	state := r.URL.Query().Get("state")
	views := api.Service.List(scopeID)
	out := make([]giveaway.EventView, 0, len(views))
	for _, v := range views {
		if state == "" || v.State.String() == state {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *API) handleGetGiveaway(w http.ResponseWriter, r *http.Request) {
	ev, ok := api.lookupEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, giveawayDetail{EventView: ev.View(), Entrants: ev.Entrants()})
}

func (api *API) handleEnter(w http.ResponseWriter, r *http.Request) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := api.Service.Enter(r.Context(), scopeID, eventID, req.MemberID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	removed, err := api.Service.Leave(r.Context(), scopeID, eventID, req.MemberID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (api *API) handleEnd(w http.ResponseWriter, r *http.Request) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return
	}
	// ボディは省略可。reason が空なら通常終了
	var req endRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := api.Service.End(r.Context(), scopeID, eventID, req.Reason)
	api.writeResult(w, scopeID, eventID, result, err)
}

func (api *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return
	}
	result, err := api.Service.Cancel(r.Context(), scopeID, eventID)
	api.writeResult(w, scopeID, eventID, result, err)
}

func (api *API) handleReroll(w http.ResponseWriter, r *http.Request) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return
	}
	// ボディは省略可。count <= 0 は当初の当選者数
	var req rerollRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	result, err := api.Service.Reroll(r.Context(), scopeID, eventID, req.Count)
	api.writeResult(w, scopeID, eventID, result, err)
}

func (api *API) writeResult(w http.ResponseWriter, scopeID, eventID int64, result *giveaway.EndResult, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	ev, err := api.Service.Get(scopeID, eventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultPayload(ev.View(), *result))
}

func (api *API) lookupEvent(w http.ResponseWriter, r *http.Request) (*giveaway.Event, bool) {
	scopeID, eventID, ok := pathEvent(w, r)
	if !ok {
		return nil, false
	}
	ev, err := api.Service.Get(scopeID, eventID)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return ev, true
}

// writeServiceError は giveaway のエラーを HTTP ステータスに変換する
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, giveaway.ErrEventNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, giveaway.ErrInvalidDuration),
		errors.Is(err, giveaway.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, giveaway.ErrNotActive),
		errors.Is(err, giveaway.ErrNotStarted),
		errors.Is(err, giveaway.ErrAlreadyEnded),
		errors.Is(err, giveaway.ErrNotEnded),
		errors.Is(err, giveaway.ErrNoEntrants):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, giveaway.ErrAnnouncementFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		logger.Error("Giveaway request failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func pathEvent(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	scopeID, ok := pathInt(w, r, "scope")
	if !ok {
		return 0, 0, false
	}
	eventID, ok := pathInt(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	return scopeID, eventID, true
}
