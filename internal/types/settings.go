package types

// GuildSettings はスコープ（ギルド）単位の設定
type GuildSettings struct {
	ScopeID          int64         `json:"scope_id"`
	DefaultBlacklist []int64       `json:"default_blacklist"`
	DefaultBypass    []int64       `json:"default_bypass"`
	Multipliers      map[int64]int `json:"multipliers"`
	MultiplierLimit  int           `json:"multiplier_limit"`

	// 0 の場合はグローバル設定を使う
	MinDurationSeconds int64 `json:"min_duration_seconds"`
	MaxDurationSeconds int64 `json:"max_duration_seconds"`

	ResultTemplate string `json:"result_template"`
}
