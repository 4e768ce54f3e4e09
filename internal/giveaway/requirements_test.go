package giveaway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	roleA  int64 = 11
	roleB  int64 = 12
	roleR1 int64 = 21
	roleR2 int64 = 22
)

func TestEvaluate_NullSetAlwaysEligible(t *testing.T) {
	var r RequirementSet
	require.True(t, r.IsNull())

	res := r.Evaluate(context.Background(), Candidate{ID: 1}, nil, 0)
	assert.True(t, res.Eligible)
	assert.Equal(t, ReasonNone, res.Reason)
}

func TestEvaluate_BlacklistRejects(t *testing.T) {
	r := RequirementSet{Blacklist: []int64{roleR1}}

	res := r.Evaluate(context.Background(), Candidate{ID: 1, Roles: []int64{roleR1}}, nil, 0)
	assert.False(t, res.Eligible)
	assert.Equal(t, ReasonBlacklisted, res.Reason)
	assert.Equal(t, roleR1, res.Role)
}

func TestEvaluate_BypassWinsOverEverything(t *testing.T) {
	lookup := &fakeActivity{stats: map[int64]ActivityStats{}}
	r := RequirementSet{
		Required:          []int64{roleA, roleB},
		Blacklist:         []int64{roleR1},
		Bypass:            []int64{roleR2},
		MinActivityLevel:  intPtr(50),
		MinWeeklyActivity: intPtr(50),
		MinMessageCount:   10,
	}

	res := r.Evaluate(context.Background(), Candidate{ID: 1, Roles: []int64{roleR1, roleR2}}, lookup, 0)
	assert.True(t, res.Eligible)
	assert.Zero(t, lookup.calls, "bypass must short-circuit before any lookup")
}

func TestEvaluate_RequiredRolesAreConjunctive(t *testing.T) {
	r := RequirementSet{Required: []int64{roleA, roleB}}

	tests := []struct {
		name     string
		roles    []int64
		eligible bool
		missing  int64
	}{
		{name: "none", roles: nil, eligible: false, missing: roleA},
		{name: "only A", roles: []int64{roleA}, eligible: false, missing: roleB},
		{name: "only B", roles: []int64{roleB}, eligible: false, missing: roleA},
		{name: "both", roles: []int64{roleB, roleA}, eligible: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Evaluate(context.Background(), Candidate{ID: 1, Roles: tt.roles}, nil, 0)
			assert.Equal(t, tt.eligible, res.Eligible)
			if !tt.eligible {
				assert.Equal(t, ReasonMissingRequired, res.Reason)
				assert.Equal(t, tt.missing, res.Role)
			}
		})
	}
}

func TestEvaluate_ActivityThresholds(t *testing.T) {
	lookup := &fakeActivity{stats: map[int64]ActivityStats{
		1: {Level: 5, WeeklyActivity: 100},
		2: {Level: 20, WeeklyActivity: 3},
		3: {Level: 20, WeeklyActivity: 100},
	}}
	r := RequirementSet{MinActivityLevel: intPtr(10), MinWeeklyActivity: intPtr(10)}

	res := r.Evaluate(context.Background(), Candidate{ID: 1}, lookup, 0)
	assert.Equal(t, ReasonInsufficientLevel, res.Reason)
	assert.Equal(t, 5, res.Have)
	assert.Equal(t, 10, res.Need)

	res = r.Evaluate(context.Background(), Candidate{ID: 2}, lookup, 0)
	assert.Equal(t, ReasonInsufficientWeekly, res.Reason)

	res = r.Evaluate(context.Background(), Candidate{ID: 3}, lookup, 0)
	assert.True(t, res.Eligible)
	assert.Equal(t, 3, lookup.calls, "level and weekly share one lookup per evaluation")
}

func TestEvaluate_LookupFailureCountsAsZero(t *testing.T) {
	lookup := &fakeActivity{err: errFake}
	r := RequirementSet{MinActivityLevel: intPtr(1)}

	res := r.Evaluate(context.Background(), Candidate{ID: 1}, lookup, 0)
	assert.False(t, res.Eligible)
	assert.Equal(t, ReasonInsufficientLevel, res.Reason)
	assert.Equal(t, 0, res.Have)

	zero := RequirementSet{MinActivityLevel: intPtr(0)}
	assert.True(t, zero.Evaluate(context.Background(), Candidate{ID: 1}, lookup, 0).Eligible)
}

func TestEvaluate_NoProviderSkipsActivityChecks(t *testing.T) {
	r := RequirementSet{MinActivityLevel: intPtr(99), MinWeeklyActivity: intPtr(99)}

	res := r.Evaluate(context.Background(), Candidate{ID: 1}, nil, 0)
	assert.True(t, res.Eligible)
}

func TestEvaluate_MessageCount(t *testing.T) {
	r := RequirementSet{MinMessageCount: 3}

	res := r.Evaluate(context.Background(), Candidate{ID: 1}, nil, 2)
	assert.Equal(t, ReasonInsufficientActivity, res.Reason)
	assert.Equal(t, 2, res.Have)
	assert.Equal(t, 3, res.Need)

	assert.True(t, r.Evaluate(context.Background(), Candidate{ID: 1}, nil, 3).Eligible)
}

func TestEvaluate_OrderBlacklistBeforeRequired(t *testing.T) {
	r := RequirementSet{Required: []int64{roleA}, Blacklist: []int64{roleR1}}

	res := r.Evaluate(context.Background(), Candidate{ID: 1, Roles: []int64{roleR1}}, nil, 0)
	assert.Equal(t, ReasonBlacklisted, res.Reason)
}

func TestMerge_GuildDefaults(t *testing.T) {
	r := RequirementSet{
		Blacklist:           []int64{roleR1},
		UseDefaultBlacklist: true,
		UseDefaultBypass:    false,
	}

	merged := r.Merge([]int64{roleR1, 31}, []int64{roleR2})
	assert.Equal(t, []int64{roleR1, 31}, merged.Blacklist)
	assert.Empty(t, merged.Bypass)
	assert.False(t, merged.UseDefaultBlacklist)
	assert.Equal(t, []int64{roleR1}, r.Blacklist, "merge must not mutate the receiver")

	res := merged.Evaluate(context.Background(), Candidate{ID: 1, Roles: []int64{31}}, nil, 0)
	assert.Equal(t, ReasonBlacklisted, res.Reason)
}

func TestIsNull_DefaultFlagsAloneAreNull(t *testing.T) {
	r := RequirementSet{UseDefaultBlacklist: true, UseDefaultBypass: true}
	assert.True(t, r.IsNull())
	assert.False(t, RequirementSet{MinMessageCount: 1}.IsNull())
	assert.False(t, RequirementSet{MinActivityLevel: intPtr(0)}.IsNull())
}
