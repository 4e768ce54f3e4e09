package giveaway

import (
	"fmt"
	"math"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/types"
)

// ToUnixSeconds はミリ秒精度の float 秒に変換する
func ToUnixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// FromUnixSeconds parses float seconds back, rounding to the millisecond.
func FromUnixSeconds(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000)))
}

// Record serializes the event into its persisted form.
func (e *Event) Record() types.GiveawayRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec := types.GiveawayRecord{
		ScopeID:        e.scopeID,
		ChannelID:      e.channelID,
		Prize:          e.prize,
		WinnerCount:    e.winnerCount,
		HostID:         e.hostID,
		Requirements:   requirementsToRecord(e.requirements),
		Entrants:       e.entrants.Snapshot(),
		FrozenEntrants: cloneIDs(e.frozen),
		MessageCounts:  e.entrants.messageCounts(),
		Winners:        cloneIDs(e.winners),
		StartsAt:       ToUnixSeconds(e.startsAt),
		EndsAt:         ToUnixSeconds(e.endsAt),
		UniqueWinners:  e.uniqueWinners,
	}
	if e.eventID != nil {
		id := *e.eventID
		rec.EventID = &id
	}
	if e.reason != nil {
		r := *e.reason
		rec.Reason = &r
	}
	return rec
}

// EventFromRecord restores an event. State is derived from reason and event_id.
// Duration policy is not re-applied to stored events.
func EventFromRecord(rec types.GiveawayRecord) (*Event, error) {
	startsAt := FromUnixSeconds(rec.StartsAt)
	endsAt := FromUnixSeconds(rec.EndsAt)
	if endsAt.Before(startsAt) {
		return nil, fmt.Errorf("%w: ends_at before starts_at", ErrInvalidEvent)
	}
	if rec.WinnerCount < 0 {
		return nil, fmt.Errorf("%w: winner count %d", ErrInvalidEvent, rec.WinnerCount)
	}

	e := &Event{
		scopeID:       rec.ScopeID,
		channelID:     rec.ChannelID,
		hostID:        rec.HostID,
		prize:         rec.Prize,
		winnerCount:   rec.WinnerCount,
		uniqueWinners: rec.UniqueWinners,
		requirements:  requirementsFromRecord(rec.Requirements),
		startsAt:      startsAt,
		endsAt:        endsAt,
		entrants:      NewEntrantRegistry(),
		frozen:        cloneIDs(rec.FrozenEntrants),
		winners:       cloneIDs(rec.Winners),
	}
	for _, id := range rec.Entrants {
		e.entrants.add(id)
	}
	for id, n := range rec.MessageCounts {
		e.entrants.activity[id] = n
	}

	switch {
	case rec.Reason != nil:
		r := *rec.Reason
		e.reason = &r
		e.state = StateEnded
	case rec.EventID != nil:
		e.state = StateActive
	default:
		e.state = StatePending
	}
	if rec.EventID != nil {
		id := *rec.EventID
		e.eventID = &id
	}
	if e.state == StateEnded && e.eventID == nil {
		return nil, fmt.Errorf("%w: ended event without event_id", ErrInvalidEvent)
	}
	return e, nil
}

func requirementsToRecord(r RequirementSet) types.RequirementsRecord {
	c := r.clone()
	return types.RequirementsRecord{
		Required:          c.Required,
		Blacklist:         c.Blacklist,
		Bypass:            c.Bypass,
		MinActivityLevel:  c.MinActivityLevel,
		MinWeeklyActivity: c.MinWeeklyActivity,
		MinMessageCount:   c.MinMessageCount,
		DefaultBlacklist:  c.UseDefaultBlacklist,
		DefaultBypass:     c.UseDefaultBypass,
	}
}

func requirementsFromRecord(r types.RequirementsRecord) RequirementSet {
	return RequirementSet{
		Required:            r.Required,
		Blacklist:           r.Blacklist,
		Bypass:              r.Bypass,
		MinActivityLevel:    r.MinActivityLevel,
		MinWeeklyActivity:   r.MinWeeklyActivity,
		MinMessageCount:     r.MinMessageCount,
		UseDefaultBlacklist: r.DefaultBlacklist,
		UseDefaultBypass:    r.DefaultBypass,
	}.clone()
}
