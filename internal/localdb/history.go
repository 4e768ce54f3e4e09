package localdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

func setupHistoryTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS giveaway_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope_id INTEGER NOT NULL,
			event_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			prize TEXT NOT NULL DEFAULT '',
			winners_json TEXT NOT NULL DEFAULT '[]',
			total_entrants INTEGER NOT NULL,
			total_weight INTEGER NOT NULL,
			drawn_at REAL NOT NULL
		)
	`); err != nil {
		logger.Error("Failed to create giveaway_history table", zap.Error(err))
		return fmt.Errorf("failed to create giveaway_history table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_giveaway_history_scope ON giveaway_history(scope_id, drawn_at DESC)`); err != nil {
		logger.Warn("Failed to create giveaway_history index", zap.Error(err))
	}
	return nil
}

// SaveDrawHistory saves one draw and returns its id.
func (s *GiveawayStore) SaveDrawHistory(h types.DrawHistory) (int64, error) {
	if s.db == nil {
		return 0, errNotInitialized
	}

	if h.DrawnAt == 0 {
		h.DrawnAt = float64(time.Now().UnixMilli()) / 1000
	}
	winners := h.Winners
	if winners == nil {
		winners = []int64{}
	}
	winnersJSON, err := json.Marshal(winners)
	if err != nil {
		return 0, fmt.Errorf("failed to encode winners: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO giveaway_history (
			scope_id, event_id, kind, prize, winners_json, total_entrants, total_weight, drawn_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ScopeID,
		h.EventID,
		h.Kind,
		h.Prize,
		string(winnersJSON),
		h.TotalEntrants,
		h.TotalWeight,
		h.DrawnAt,
	)
	if err != nil {
		logger.Error("Failed to save draw history", zap.Error(err), zap.Int64("scope_id", h.ScopeID))
		return 0, fmt.Errorf("failed to save draw history: %w", err)
	}
	return res.LastInsertId()
}

// GetDrawHistory returns history of a scope ordered by latest first.
func (s *GiveawayStore) GetDrawHistory(scopeID int64, limit int) ([]types.DrawHistory, error) {
	if s.db == nil {
		return []types.DrawHistory{}, errNotInitialized
	}

	query := `
		SELECT id, scope_id, event_id, kind, prize, winners_json, total_entrants, total_weight, drawn_at
		FROM giveaway_history
		WHERE scope_id = ?
		ORDER BY drawn_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", scopeID, limit)
	} else {
		rows, err = s.db.Query(query, scopeID)
	}
	if err != nil {
		logger.Error("Failed to get draw history", zap.Error(err))
		return []types.DrawHistory{}, fmt.Errorf("failed to get draw history: %w", err)
	}
	defer rows.Close()

	history := []types.DrawHistory{}
	for rows.Next() {
		var (
			item        types.DrawHistory
			winnersJSON string
		)
		if err := rows.Scan(
			&item.ID,
			&item.ScopeID,
			&item.EventID,
			&item.Kind,
			&item.Prize,
			&winnersJSON,
			&item.TotalEntrants,
			&item.TotalWeight,
			&item.DrawnAt,
		); err != nil {
			logger.Error("Failed to scan draw history", zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(winnersJSON), &item.Winners); err != nil {
			item.Winners = []int64{}
		}
		history = append(history, item)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating draw history", zap.Error(err))
		return []types.DrawHistory{}, fmt.Errorf("failed to iterate draw history: %w", err)
	}

	return history, nil
}

// DeleteDrawHistory deletes one history row of a scope.
func (s *GiveawayStore) DeleteDrawHistory(scopeID, id int64) error {
	if s.db == nil {
		return errNotInitialized
	}

	_, err := s.db.Exec(`DELETE FROM giveaway_history WHERE scope_id = ? AND id = ?`, scopeID, id)
	if err != nil {
		logger.Error("Failed to delete draw history", zap.Error(err), zap.Int64("id", id))
		return fmt.Errorf("failed to delete draw history: %w", err)
	}
	return nil
}
