package localdb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var DBClient *sql.DB

// ErrPersistenceWriteFailed はスコープ単位の書き込みが失敗したことを表す。
// その場合スコープの永続データは書き込み前の状態のまま残る。
var ErrPersistenceWriteFailed = errors.New("persistence write failed")

var errNotInitialized = errors.New("database not initialized")

func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	if err := setupGiveawayTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := setupHistoryTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// guild_settingsテーブルを追加（スコープごとの既定値）
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS guild_settings (
		scope_id INTEGER PRIMARY KEY,
		default_blacklist TEXT NOT NULL DEFAULT '[]',
		default_bypass TEXT NOT NULL DEFAULT '[]',
		multipliers TEXT NOT NULL DEFAULT '{}',
		multiplier_limit INTEGER NOT NULL DEFAULT 0,
		min_duration_seconds INTEGER NOT NULL DEFAULT 0,
		max_duration_seconds INTEGER NOT NULL DEFAULT 0,
		result_template TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create guild_settings table", zap.Error(err))
		_ = db.Close()
		return nil, fmt.Errorf("failed to create guild_settings table: %w", err)
	}

	DBClient = db
	return db, nil
}

// Close は共有接続を閉じて破棄する。次の SetupDB は新しい接続を開く
func Close() error {
	if DBClient == nil {
		return nil
	}
	err := DBClient.Close()
	DBClient = nil
	return err
}
