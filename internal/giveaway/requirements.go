package giveaway

import (
	"context"
	"fmt"

	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"go.uber.org/zap"
)

// ReasonCode は参加不可の理由
type ReasonCode string

const (
	ReasonNone                 ReasonCode = ""
	ReasonBlacklisted          ReasonCode = "blacklisted"
	ReasonMissingRequired      ReasonCode = "missing_required"
	ReasonInsufficientLevel    ReasonCode = "insufficient_level"
	ReasonInsufficientWeekly   ReasonCode = "insufficient_weekly_activity"
	ReasonInsufficientActivity ReasonCode = "insufficient_activity"
	ReasonNotActive            ReasonCode = "not_active"
)

// ActivityStats is the external reputation of a member.
type ActivityStats struct {
	Level          int `json:"level"`
	WeeklyActivity int `json:"weekly_activity"`
}

// ActivityLookup fetches reputation numbers from an external leveling provider.
type ActivityLookup interface {
	Lookup(ctx context.Context, scopeID, candidateID int64) (ActivityStats, error)
}

// Candidate is a member attempting to enter.
type Candidate struct {
	ScopeID int64
	ID      int64
	Roles   []int64
}

// EvaluationResult は参加条件の判定結果
type EvaluationResult struct {
	Eligible bool       `json:"eligible"`
	Reason   ReasonCode `json:"reason,omitempty"`
	Detail   string     `json:"detail,omitempty"`
	Role     int64      `json:"role,omitempty"`
	Have     int        `json:"have,omitempty"`
	Need     int        `json:"need,omitempty"`
}

func eligible() EvaluationResult {
	return EvaluationResult{Eligible: true}
}

// RequirementSet はイベントの参加条件。作成後は変更しない。
type RequirementSet struct {
	Required          []int64 `json:"required"`
	Blacklist         []int64 `json:"blacklist"`
	Bypass            []int64 `json:"bypass"`
	MinActivityLevel  *int    `json:"min_activity_level"`
	MinWeeklyActivity *int    `json:"min_weekly_activity"`
	MinMessageCount   int     `json:"min_message_count"`

	// ギルド既定のブラックリスト／バイパスを取り込むかどうか
	UseDefaultBlacklist bool `json:"default_blacklist"`
	UseDefaultBypass    bool `json:"default_bypass"`
}

// IsNull reports whether the set constrains nothing.
func (r RequirementSet) IsNull() bool {
	return len(r.Required) == 0 &&
		len(r.Blacklist) == 0 &&
		len(r.Bypass) == 0 &&
		r.MinActivityLevel == nil &&
		r.MinWeeklyActivity == nil &&
		r.MinMessageCount <= 0
}

// Merge folds guild-wide default blacklist/bypass roles into the set unless suppressed.
// The result never refers to defaults again.
func (r RequirementSet) Merge(defaultBlacklist, defaultBypass []int64) RequirementSet {
	merged := r.clone()
	if r.UseDefaultBlacklist {
		merged.Blacklist = unionIDs(merged.Blacklist, defaultBlacklist)
	}
	if r.UseDefaultBypass {
		merged.Bypass = unionIDs(merged.Bypass, defaultBypass)
	}
	merged.UseDefaultBlacklist = false
	merged.UseDefaultBypass = false
	return merged
}

// Evaluate checks the candidate against the set in a fixed order:
// bypass, blacklist, required roles, activity level, weekly activity, message count.
// A nil lookup disables the level checks instead of rejecting everyone.
// Lookup failures count as zero.
func (r RequirementSet) Evaluate(ctx context.Context, candidate Candidate, lookup ActivityLookup, messageCount int) EvaluationResult {
	if r.IsNull() {
		return eligible()
	}

	held := toSet(candidate.Roles)

	for _, role := range r.Bypass {
		if _, ok := held[role]; ok {
			return eligible()
		}
	}

	for _, role := range r.Blacklist {
		if _, ok := held[role]; ok {
			return EvaluationResult{
				Reason: ReasonBlacklisted,
				Role:   role,
				Detail: fmt.Sprintf("holds blacklisted role %d", role),
			}
		}
	}

	// 必須ロールはすべて保有している必要がある
	for _, role := range r.Required {
		if _, ok := held[role]; !ok {
			return EvaluationResult{
				Reason: ReasonMissingRequired,
				Role:   role,
				Detail: fmt.Sprintf("missing required role %d", role),
			}
		}
	}

	if lookup != nil && r.needsActivityLookup() {
		stats := lookupActivity(ctx, lookup, candidate)

		if r.MinActivityLevel != nil && stats.Level < *r.MinActivityLevel {
			return EvaluationResult{
				Reason: ReasonInsufficientLevel,
				Have:   stats.Level,
				Need:   *r.MinActivityLevel,
				Detail: fmt.Sprintf("level %d is below %d", stats.Level, *r.MinActivityLevel),
			}
		}
		if r.MinWeeklyActivity != nil && stats.WeeklyActivity < *r.MinWeeklyActivity {
			return EvaluationResult{
				Reason: ReasonInsufficientWeekly,
				Have:   stats.WeeklyActivity,
				Need:   *r.MinWeeklyActivity,
				Detail: fmt.Sprintf("weekly activity %d is below %d", stats.WeeklyActivity, *r.MinWeeklyActivity),
			}
		}
	}

	if r.MinMessageCount > 0 && messageCount < r.MinMessageCount {
		return EvaluationResult{
			Reason: ReasonInsufficientActivity,
			Have:   messageCount,
			Need:   r.MinMessageCount,
			Detail: fmt.Sprintf("%d messages sent, %d required", messageCount, r.MinMessageCount),
		}
	}

	return eligible()
}

func (r RequirementSet) needsActivityLookup() bool {
	return r.MinActivityLevel != nil || r.MinWeeklyActivity != nil
}

func lookupActivity(ctx context.Context, lookup ActivityLookup, candidate Candidate) ActivityStats {
	stats, err := lookup.Lookup(ctx, candidate.ScopeID, candidate.ID)
	if err != nil {
		logger.Warn("Activity lookup failed, treating as zero",
			zap.Int64("scope_id", candidate.ScopeID),
			zap.Int64("candidate_id", candidate.ID),
			zap.Error(fmt.Errorf("%w: %v", ErrRequirementLookupFailed, err)))
		return ActivityStats{}
	}
	return stats
}

func (r RequirementSet) clone() RequirementSet {
	c := r
	c.Required = cloneIDs(r.Required)
	c.Blacklist = cloneIDs(r.Blacklist)
	c.Bypass = cloneIDs(r.Bypass)
	if r.MinActivityLevel != nil {
		v := *r.MinActivityLevel
		c.MinActivityLevel = &v
	}
	if r.MinWeeklyActivity != nil {
		v := *r.MinWeeklyActivity
		c.MinWeeklyActivity = &v
	}
	return c
}

func cloneIDs(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

func unionIDs(a, b []int64) []int64 {
	seen := toSet(a)
	out := cloneIDs(a)
	for _, id := range b {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
