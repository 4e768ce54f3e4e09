package localdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

func setupGiveawayTables(db *sql.DB) error {
	// event_id は Pending の間 NULL。行の並びは position で保持する
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS giveaways (
			scope_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			event_id INTEGER,
			payload TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (scope_id, position)
		)
	`); err != nil {
		logger.Error("Failed to create giveaways table", zap.Error(err))
		return fmt.Errorf("failed to create giveaways table: %w", err)
	}

	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_giveaways_event ON giveaways(scope_id, event_id) WHERE event_id IS NOT NULL`); err != nil {
		logger.Warn("Failed to create giveaways index", zap.Error(err))
	}
	return nil
}

// GiveawayStore は抽選イベントと抽選履歴の SQLite 永続化。
type GiveawayStore struct {
	db *sql.DB
}

func NewGiveawayStore(db *sql.DB) *GiveawayStore {
	return &GiveawayStore{db: db}
}

// SaveScope replaces every row of the scope inside one transaction.
func (s *GiveawayStore) SaveScope(ctx context.Context, scopeID int64, records []types.GiveawayRecord) error {
	if s.db == nil {
		return errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistenceWriteFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM giveaways WHERE scope_id = ?`, scopeID); err != nil {
		return fmt.Errorf("%w: clear scope %d: %v", ErrPersistenceWriteFailed, scopeID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO giveaways (scope_id, position, event_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", ErrPersistenceWriteFailed, err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, rec := range records {
		rec.ScopeID = scopeID
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: encode record %d: %v", ErrPersistenceWriteFailed, i, err)
		}
		var eventID sql.NullInt64
		if rec.EventID != nil {
			eventID = sql.NullInt64{Int64: *rec.EventID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, scopeID, i, eventID, string(payload), now); err != nil {
			return fmt.Errorf("%w: insert record %d: %v", ErrPersistenceWriteFailed, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistenceWriteFailed, err)
	}
	return nil
}

// LoadAll returns every stored record grouped by scope, in saved order.
// Rows that fail to decode are skipped.
func (s *GiveawayStore) LoadAll(ctx context.Context) (map[int64][]types.GiveawayRecord, error) {
	if s.db == nil {
		return nil, errNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `SELECT scope_id, position, payload FROM giveaways ORDER BY scope_id, position`)
	if err != nil {
		logger.Error("Failed to load giveaways", zap.Error(err))
		return nil, fmt.Errorf("failed to load giveaways: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]types.GiveawayRecord)
	for rows.Next() {
		var (
			scopeID  int64
			position int
			payload  string
		)
		if err := rows.Scan(&scopeID, &position, &payload); err != nil {
			logger.Error("Failed to scan giveaway row", zap.Error(err))
			continue
		}
		var rec types.GiveawayRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			logger.Warn("Skipping undecodable giveaway row",
				zap.Int64("scope_id", scopeID),
				zap.Int("position", position),
				zap.Error(err))
			continue
		}
		rec.ScopeID = scopeID
		out[scopeID] = append(out[scopeID], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate giveaways: %w", err)
	}
	return out, nil
}
