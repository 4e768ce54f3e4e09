package webserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/metrics"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"github.com/ichi0g0y/giveaway-engine/internal/version"
	"go.uber.org/zap"
)

// SettingsStore は /settings で使う設定の永続化
type SettingsStore interface {
	GetGuildSettings(scopeID int64) (types.GuildSettings, error)
	UpdateGuildSettings(gs types.GuildSettings) error
}

// HistoryStore は /history で使う抽選履歴
type HistoryStore interface {
	GetDrawHistory(scopeID int64, limit int) ([]types.DrawHistory, error)
}

// RoleDirectory is fed by the platform adapter through PUT .../roles.
type RoleDirectory interface {
	SetRoles(scopeID, memberID int64, roles []int64)
	ResolveRoles(ctx context.Context, scopeID, memberID int64) ([]int64, error)
}

// API holds what the handlers need.
type API struct {
	Service  *giveaway.Service
	Settings SettingsStore
	History  HistoryStore
	Members  RoleDirectory
	Hub      *Hub
}

// NewRouter wires every route. /metrics and /ws are mounted only when available.
func NewRouter(api *API) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware, corsMiddleware)

	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if api.Hub != nil {
		r.HandleFunc("/ws", api.Hub.ServeWS)
	}

	s := r.PathPrefix("/api/scopes/{scope:[0-9]+}").Subrouter()
	s.HandleFunc("/giveaways", api.handleCreateGiveaway).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/giveaways", api.handleListGiveaways).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}", api.handleGetGiveaway).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}/enter", api.handleEnter).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}/leave", api.handleLeave).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}/end", api.handleEnd).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}/reroll", api.handleReroll).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/giveaways/{id:[0-9]+}/cancel", api.handleCancel).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/messages", api.handleMessage).Methods(http.MethodPost, http.MethodOptions)
	s.HandleFunc("/members/{member:[0-9]+}/roles", api.handleSetRoles).Methods(http.MethodPut, http.MethodOptions)
	s.HandleFunc("/settings", api.handleGetSettings).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/settings", api.handlePutSettings).Methods(http.MethodPut, http.MethodOptions)
	s.HandleFunc("/history", api.handleHistory).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// corsMiddleware はCORSヘッダーを設定する
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /ws は Hijack が必要なのでラップしない
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
