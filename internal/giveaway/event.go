package giveaway

import (
	"fmt"
	"sync"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
)

// State はイベントのライフサイクル
type State int

const (
	StatePending State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatePending
	case "active":
		*s = StateActive
	case "ended":
		*s = StateEnded
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

const (
	ReasonCompleted = "completed normally"
	ReasonCancelled = "cancelled"
)

// EventSpec is the input to NewEvent.
type EventSpec struct {
	ScopeID       int64
	ChannelID     int64
	HostID        int64
	Prize         string
	WinnerCount   int
	Requirements  RequirementSet
	StartsAt      time.Time
	EndsAt        time.Time
	UniqueWinners bool
}

// DurationPolicy bounds endsAt - startsAt.
type DurationPolicy struct {
	Min time.Duration
	Max time.Duration
}

func (p DurationPolicy) validate(startsAt, endsAt time.Time) error {
	d := endsAt.Sub(startsAt)
	if p.Min > 0 && d < p.Min {
		return fmt.Errorf("%w: %v is shorter than %v", ErrInvalidDuration, d, p.Min)
	}
	if p.Max > 0 && d > p.Max {
		return fmt.Errorf("%w: %v is longer than %v", ErrInvalidDuration, d, p.Max)
	}
	return nil
}

// validateAt checks the floor against the creation time: endsAt must be at least Min after now.
// With no floor configured endsAt must still lie in the future.
func (p DurationPolicy) validateAt(now, endsAt time.Time) error {
	if endsAt.Before(now.Add(p.Min)) || !endsAt.After(now) {
		return fmt.Errorf("%w: ends_at %v is less than %v after now", ErrInvalidDuration, endsAt, p.Min)
	}
	return nil
}

// Event は1つの抽選イベント。
// すべての可変フィールドは mu で保護される。mu を保持したまま外部 I/O をしてはいけない。
type Event struct {
	mu sync.Mutex

	scopeID       int64
	channelID     int64
	hostID        int64
	prize         string
	winnerCount   int
	uniqueWinners bool
	requirements  RequirementSet
	startsAt      time.Time
	endsAt        time.Time

	eventID  *int64
	state    State
	reason   *string
	entrants *EntrantRegistry
	frozen   []int64
	winners  []int64
}

// NewEvent validates the input and returns a Pending event.
func NewEvent(spec EventSpec, policy DurationPolicy) (*Event, error) {
	if spec.WinnerCount < 0 {
		return nil, fmt.Errorf("%w: winner count %d", ErrInvalidEvent, spec.WinnerCount)
	}
	startsAt := normalizeTime(spec.StartsAt)
	endsAt := normalizeTime(spec.EndsAt)
	if !endsAt.After(startsAt) {
		return nil, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidDuration)
	}
	if err := policy.validate(startsAt, endsAt); err != nil {
		return nil, err
	}

	return &Event{
		scopeID:       spec.ScopeID,
		channelID:     spec.ChannelID,
		hostID:        spec.HostID,
		prize:         spec.Prize,
		winnerCount:   spec.WinnerCount,
		uniqueWinners: spec.UniqueWinners,
		requirements:  spec.Requirements.clone(),
		startsAt:      startsAt,
		endsAt:        endsAt,
		state:         StatePending,
		entrants:      NewEntrantRegistry(),
		frozen:        []int64{},
		winners:       []int64{},
	}, nil
}

func (e *Event) ScopeID() int64 { return e.scopeID }

func (e *Event) StartsAt() time.Time { return e.startsAt }

func (e *Event) EndsAt() time.Time { return e.endsAt }

func (e *Event) Requirements() RequirementSet { return e.requirements.clone() }

// EventID returns the id assigned on activation.
func (e *Event) EventID() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eventID == nil {
		return 0, false
	}
	return *e.eventID, true
}

func (e *Event) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// activate moves a Pending event to Active with the id the announcement produced.
func (e *Event) activate(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateActive:
		return fmt.Errorf("%w: already active", ErrInvalidEvent)
	case StateEnded:
		return ErrAlreadyEnded
	}
	e.eventID = &id
	e.state = StateActive
	return nil
}

// deactivate undoes activate when the store refuses the id. Only an Active event without entrants is reverted.
func (e *Event) deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive || e.entrants.Len() > 0 {
		return
	}
	e.eventID = nil
	e.state = StatePending
}

// applyEntry は評価済みの参加リクエストをロック下で反映する
func (e *Event) applyEntry(candidateID int64, result EvaluationResult) (added bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return false, ErrNotActive
	}
	return e.entrants.TryAdd(candidateID, result), nil
}

// leave removes the candidate in any state. Winners and the frozen snapshot are untouched.
func (e *Event) leave(candidateID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entrants.Remove(candidateID)
}

func (e *Event) messageCount(candidateID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entrants.MessageCount(candidateID)
}

// recordActivity increments the counter only while Active.
func (e *Event) recordActivity(candidateID int64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return 0, false
	}
	return e.entrants.RecordActivity(candidateID), true
}

func (e *Event) entrantSnapshot() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entrants.Snapshot()
}

// Entrants returns the current entrants in entry order.
func (e *Event) Entrants() []int64 {
	return e.entrantSnapshot()
}

// EndResult is the outcome of end, cancel or reroll.
type EndResult struct {
	Winners     []int64
	Reason      string
	Draw        *lottery.DrawResult
	Message     string
	Rerolled    bool
	EndedAt     time.Time
	WinnerTally []lottery.WinnerCount
}

func (e *Event) checkEndable() error {
	switch e.state {
	case StatePending:
		return ErrNotStarted
	case StateEnded:
		return ErrAlreadyEnded
	}
	return nil
}

// end draws winners and freezes the entrant snapshot.
// weightFn must not block. A nil reason means normal completion.
func (e *Event) end(reason *string, weightFn func(int64) int, draw bool) (*EndResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkEndable(); err != nil {
		return nil, err
	}

	snapshot := e.entrants.Snapshot()
	result := &lottery.DrawResult{Winners: []int64{}, TotalEntrants: len(snapshot)}
	if draw {
		var err error
		result, err = lottery.Draw(snapshot, weightFn, lottery.DrawOptions{Count: e.winnerCount, Unique: e.uniqueWinners})
		if err != nil {
			return nil, fmt.Errorf("draw winners: %w", err)
		}
	}

	r := ReasonCompleted
	if reason != nil && *reason != "" {
		r = *reason
	}
	e.frozen = snapshot
	e.winners = result.Winners
	e.reason = &r
	e.state = StateEnded

	return &EndResult{
		Winners: cloneIDs(result.Winners),
		Reason:  r,
		Draw:    result,
	}, nil
}

func (e *Event) frozenSnapshot() ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEnded {
		return nil, ErrNotEnded
	}
	return cloneIDs(e.frozen), nil
}

// reroll redraws against the snapshot captured at end. count <= 0 reuses the winner count.
func (e *Event) reroll(count int, weightFn func(int64) int) (*EndResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateEnded {
		return nil, ErrNotEnded
	}
	if len(e.frozen) == 0 {
		return nil, ErrNoEntrants
	}
	if count <= 0 {
		count = e.winnerCount
	}

	result, err := lottery.Draw(e.frozen, weightFn, lottery.DrawOptions{Count: count, Unique: e.uniqueWinners})
	if err != nil {
		return nil, fmt.Errorf("reroll winners: %w", err)
	}
	e.winners = result.Winners

	return &EndResult{
		Winners:  cloneIDs(result.Winners),
		Reason:   *e.reason,
		Draw:     result,
		Rerolled: true,
	}, nil
}

// EventView is a read-only copy for announcers and the HTTP surface.
type EventView struct {
	ScopeID       int64          `json:"scope_id"`
	EventID       *int64         `json:"event_id"`
	ChannelID     int64          `json:"channel_id"`
	HostID        int64          `json:"host_id"`
	Prize         string         `json:"prize"`
	WinnerCount   int            `json:"winner_count"`
	UniqueWinners bool           `json:"unique_winners"`
	State         State          `json:"state"`
	Requirements  RequirementSet `json:"requirements"`
	EntrantCount  int            `json:"entrant_count"`
	Winners       []int64        `json:"winners"`
	StartsAt      time.Time      `json:"starts_at"`
	EndsAt        time.Time      `json:"ends_at"`
	Reason        string         `json:"reason,omitempty"`
}

func (e *Event) View() EventView {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := EventView{
		ScopeID:       e.scopeID,
		ChannelID:     e.channelID,
		HostID:        e.hostID,
		Prize:         e.prize,
		WinnerCount:   e.winnerCount,
		UniqueWinners: e.uniqueWinners,
		State:         e.state,
		Requirements:  e.requirements.clone(),
		EntrantCount:  e.entrants.Len(),
		Winners:       cloneIDs(e.winners),
		StartsAt:      e.startsAt,
		EndsAt:        e.endsAt,
	}
	if e.eventID != nil {
		id := *e.eventID
		v.EventID = &id
	}
	if e.reason != nil {
		v.Reason = *e.reason
	}
	return v
}

// dueAt returns the next instant the scheduler must act on this event.
func (e *Event) dueAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StatePending:
		return e.startsAt, true
	case StateActive:
		return e.endsAt, true
	}
	return time.Time{}, false
}

func normalizeTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
