package settings

import (
	"path/filepath"
	"testing"

	"github.com/ichi0g0y/giveaway-engine/internal/localdb"
	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
)

func newTestManager(t *testing.T) *SettingsManager {
	t.Helper()
	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		localdb.DBClient = nil
	})
	return NewSettingsManager(db)
}

func TestGetGuildSettings_Defaults(t *testing.T) {
	sm := newTestManager(t)

	gs, err := sm.GetGuildSettings(99)
	if err != nil {
		t.Fatalf("GetGuildSettings failed: %v", err)
	}
	if gs.ScopeID != 99 {
		t.Fatalf("unexpected scope id: got=%d want=99", gs.ScopeID)
	}
	if len(gs.DefaultBlacklist) != 0 || len(gs.Multipliers) != 0 {
		t.Fatalf("defaults should be empty: %+v", gs)
	}
}

func TestUpdateGuildSettings_RoundTrip(t *testing.T) {
	sm := newTestManager(t)

	want := types.GuildSettings{
		ScopeID:            1,
		DefaultBlacklist:   []int64{10, 11},
		DefaultBypass:      []int64{20},
		Multipliers:        map[int64]int{30: 2, 31: 5},
		MultiplierLimit:    6,
		MinDurationSeconds: 60,
		MaxDurationSeconds: 3600,
		ResultTemplate:     "{prize}: {winners}",
	}
	if err := sm.UpdateGuildSettings(want); err != nil {
		t.Fatalf("UpdateGuildSettings failed: %v", err)
	}

	got, err := sm.GetGuildSettings(1)
	if err != nil {
		t.Fatalf("GetGuildSettings failed: %v", err)
	}
	if len(got.DefaultBlacklist) != 2 || got.DefaultBlacklist[1] != 11 {
		t.Fatalf("unexpected blacklist: %+v", got.DefaultBlacklist)
	}
	if got.Multipliers[31] != 5 {
		t.Fatalf("unexpected multipliers: %+v", got.Multipliers)
	}
	if got.MultiplierLimit != 6 || got.MinDurationSeconds != 60 || got.MaxDurationSeconds != 3600 {
		t.Fatalf("unexpected numeric fields: %+v", got)
	}
	if got.ResultTemplate != want.ResultTemplate {
		t.Fatalf("unexpected template: got=%q want=%q", got.ResultTemplate, want.ResultTemplate)
	}

	want.MultiplierLimit = 0
	if err := sm.UpdateGuildSettings(want); err != nil {
		t.Fatalf("second UpdateGuildSettings failed: %v", err)
	}
	got, _ = sm.GetGuildSettings(1)
	if got.MultiplierLimit != 0 {
		t.Fatalf("upsert did not overwrite: got=%d", got.MultiplierLimit)
	}

	if err := sm.DeleteGuildSettings(1); err != nil {
		t.Fatalf("DeleteGuildSettings failed: %v", err)
	}
	got, _ = sm.GetGuildSettings(1)
	if len(got.Multipliers) != 0 {
		t.Fatalf("delete should reset to defaults: %+v", got)
	}
}

func TestValidateGuildSettings(t *testing.T) {
	tests := []struct {
		name    string
		gs      types.GuildSettings
		wantErr bool
	}{
		{name: "empty", gs: types.GuildSettings{}},
		{name: "negative limit", gs: types.GuildSettings{MultiplierLimit: -1}, wantErr: true},
		{name: "zero multiplier", gs: types.GuildSettings{Multipliers: map[int64]int{1: 0}}, wantErr: true},
		{name: "huge multiplier", gs: types.GuildSettings{Multipliers: map[int64]int{7: 1_000_000_000}}, wantErr: true},
		{name: "limit above cap", gs: types.GuildSettings{MultiplierLimit: lottery.MaxWeight + 1}, wantErr: true},
		{name: "multiplier at cap", gs: types.GuildSettings{Multipliers: map[int64]int{7: lottery.MaxWeight}, MultiplierLimit: lottery.MaxWeight}},
		{name: "min above max", gs: types.GuildSettings{MinDurationSeconds: 100, MaxDurationSeconds: 10}, wantErr: true},
		{name: "unbalanced template", gs: types.GuildSettings{ResultTemplate: "{prize"}, wantErr: true},
		{name: "valid", gs: types.GuildSettings{Multipliers: map[int64]int{1: 3}, MinDurationSeconds: 10, MaxDurationSeconds: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGuildSettings(tt.gs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateGuildSettings() error=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
