package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

const maxTemplateLength = 2000

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

// DefaultGuildSettings は行が存在しないスコープに使う値
func DefaultGuildSettings(scopeID int64) types.GuildSettings {
	return types.GuildSettings{
		ScopeID:          scopeID,
		DefaultBlacklist: []int64{},
		DefaultBypass:    []int64{},
		Multipliers:      map[int64]int{},
	}
}

// GetGuildSettings returns the settings of a scope, or defaults when none are stored.
func (sm *SettingsManager) GetGuildSettings(scopeID int64) (types.GuildSettings, error) {
	gs := DefaultGuildSettings(scopeID)
	var blacklist, bypass, multipliers string
	err := sm.db.QueryRow(`
		SELECT default_blacklist, default_bypass, multipliers, multiplier_limit,
			min_duration_seconds, max_duration_seconds, result_template
		FROM guild_settings WHERE scope_id = ?`, scopeID).Scan(
		&blacklist,
		&bypass,
		&multipliers,
		&gs.MultiplierLimit,
		&gs.MinDurationSeconds,
		&gs.MaxDurationSeconds,
		&gs.ResultTemplate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return gs, nil
	}
	if err != nil {
		logger.Error("Failed to get guild settings", zap.Int64("scope_id", scopeID), zap.Error(err))
		return gs, fmt.Errorf("failed to get guild settings: %w", err)
	}

	// JSONが壊れていても既定値で続行
	if err := json.Unmarshal([]byte(blacklist), &gs.DefaultBlacklist); err != nil {
		logger.Warn("Invalid default_blacklist, ignoring", zap.Int64("scope_id", scopeID), zap.Error(err))
		gs.DefaultBlacklist = []int64{}
	}
	if err := json.Unmarshal([]byte(bypass), &gs.DefaultBypass); err != nil {
		logger.Warn("Invalid default_bypass, ignoring", zap.Int64("scope_id", scopeID), zap.Error(err))
		gs.DefaultBypass = []int64{}
	}
	if err := json.Unmarshal([]byte(multipliers), &gs.Multipliers); err != nil {
		logger.Warn("Invalid multipliers, ignoring", zap.Int64("scope_id", scopeID), zap.Error(err))
		gs.Multipliers = map[int64]int{}
	}
	return gs, nil
}

// UpdateGuildSettings validates and upserts the settings of a scope.
func (sm *SettingsManager) UpdateGuildSettings(gs types.GuildSettings) error {
	if err := ValidateGuildSettings(gs); err != nil {
		return err
	}
	if gs.DefaultBlacklist == nil {
		gs.DefaultBlacklist = []int64{}
	}
	if gs.DefaultBypass == nil {
		gs.DefaultBypass = []int64{}
	}
	if gs.Multipliers == nil {
		gs.Multipliers = map[int64]int{}
	}

	blacklist, err := json.Marshal(gs.DefaultBlacklist)
	if err != nil {
		return fmt.Errorf("failed to encode default_blacklist: %w", err)
	}
	bypass, err := json.Marshal(gs.DefaultBypass)
	if err != nil {
		return fmt.Errorf("failed to encode default_bypass: %w", err)
	}
	multipliers, err := json.Marshal(gs.Multipliers)
	if err != nil {
		return fmt.Errorf("failed to encode multipliers: %w", err)
	}

	_, err = sm.db.Exec(`
		INSERT INTO guild_settings (
			scope_id, default_blacklist, default_bypass, multipliers, multiplier_limit,
			min_duration_seconds, max_duration_seconds, result_template, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope_id) DO UPDATE SET
			default_blacklist = excluded.default_blacklist,
			default_bypass = excluded.default_bypass,
			multipliers = excluded.multipliers,
			multiplier_limit = excluded.multiplier_limit,
			min_duration_seconds = excluded.min_duration_seconds,
			max_duration_seconds = excluded.max_duration_seconds,
			result_template = excluded.result_template,
			updated_at = excluded.updated_at`,
		gs.ScopeID,
		string(blacklist),
		string(bypass),
		string(multipliers),
		gs.MultiplierLimit,
		gs.MinDurationSeconds,
		gs.MaxDurationSeconds,
		gs.ResultTemplate,
		time.Now(),
	)
	if err != nil {
		logger.Error("Failed to update guild settings", zap.Int64("scope_id", gs.ScopeID), zap.Error(err))
		return fmt.Errorf("failed to update guild settings: %w", err)
	}
	return nil
}

// DeleteGuildSettings resets a scope to defaults.
func (sm *SettingsManager) DeleteGuildSettings(scopeID int64) error {
	if _, err := sm.db.Exec(`DELETE FROM guild_settings WHERE scope_id = ?`, scopeID); err != nil {
		logger.Error("Failed to delete guild settings", zap.Int64("scope_id", scopeID), zap.Error(err))
		return fmt.Errorf("failed to delete guild settings: %w", err)
	}
	return nil
}

// バリデーション
func ValidateGuildSettings(gs types.GuildSettings) error {
	if gs.MultiplierLimit < 0 || gs.MultiplierLimit > lottery.MaxWeight {
		return fmt.Errorf("multiplier_limit must be between 0 and %d", lottery.MaxWeight)
	}
	for role, value := range gs.Multipliers {
		if value < 1 || value > lottery.MaxWeight {
			return fmt.Errorf("multiplier for role %d must be between 1 and %d", role, lottery.MaxWeight)
		}
	}
	if gs.MinDurationSeconds < 0 || gs.MaxDurationSeconds < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if gs.MinDurationSeconds > 0 && gs.MaxDurationSeconds > 0 && gs.MinDurationSeconds > gs.MaxDurationSeconds {
		return fmt.Errorf("min_duration_seconds must not exceed max_duration_seconds")
	}
	if len(gs.ResultTemplate) > maxTemplateLength {
		return fmt.Errorf("result_template must be at most %d bytes", maxTemplateLength)
	}
	if strings.Count(gs.ResultTemplate, "{") != strings.Count(gs.ResultTemplate, "}") {
		return fmt.Errorf("result_template has unbalanced braces")
	}
	return nil
}
