package types

// RequirementsRecord は永続化用の参加条件
type RequirementsRecord struct {
	Required          []int64 `json:"required"`
	Blacklist         []int64 `json:"blacklist"`
	Bypass            []int64 `json:"bypass"`
	MinActivityLevel  *int    `json:"min_activity_level"`
	MinWeeklyActivity *int    `json:"min_weekly_activity"`
	MinMessageCount   int     `json:"min_message_count"`
	DefaultBlacklist  bool    `json:"default_blacklist"`
	DefaultBypass     bool    `json:"default_bypass"`
}

// GiveawayRecord is the JSON wire/persistence form of one giveaway event.
// State is not stored: reason != nil means ended, otherwise event_id != nil means active.
type GiveawayRecord struct {
	EventID        *int64             `json:"event_id"`
	ScopeID        int64              `json:"scope_id"`
	ChannelID      int64              `json:"channel_id"`
	Prize          string             `json:"prize"`
	WinnerCount    int                `json:"winner_count"`
	HostID         int64              `json:"host_id"`
	Requirements   RequirementsRecord `json:"requirements"`
	Entrants       []int64            `json:"entrants"`
	FrozenEntrants []int64            `json:"frozen_entrants"`
	MessageCounts  map[int64]int      `json:"message_counts"`
	Winners        []int64            `json:"winners"`
	StartsAt       float64            `json:"starts_at"`
	EndsAt         float64            `json:"ends_at"`
	Reason         *string            `json:"reason"`
	UniqueWinners  bool               `json:"unique_winners"`
}

// DrawHistory は抽選（終了・再抽選）の履歴
type DrawHistory struct {
	ID            int64   `json:"id"`
	ScopeID       int64   `json:"scope_id"`
	EventID       int64   `json:"event_id"`
	Kind          string  `json:"kind"` // "end" or "reroll"
	Prize         string  `json:"prize"`
	Winners       []int64 `json:"winners"`
	TotalEntrants int     `json:"total_entrants"`
	TotalWeight   int     `json:"total_weight"`
	DrawnAt       float64 `json:"drawn_at"`
}
