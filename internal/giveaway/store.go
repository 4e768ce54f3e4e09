package giveaway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

// Persister stores every event of a scope at once. SaveScope must be all-or-nothing.
type Persister interface {
	SaveScope(ctx context.Context, scopeID int64, records []types.GiveawayRecord) error
	LoadAll(ctx context.Context) (map[int64][]types.GiveawayRecord, error)
}

type eventKey struct {
	scopeID int64
	eventID int64
}

type scopeEvents struct {
	byID    map[int64]*Event
	pending []*Event
}

// EventStore はプロセス内の全イベントを保持する。
// Active なイベントは active インデックスにも載り、スケジューラはそこだけを走査する。
type EventStore struct {
	mu     sync.RWMutex
	scopes map[int64]*scopeEvents
	active map[eventKey]*Event
}

func NewEventStore() *EventStore {
	return &EventStore{
		scopes: make(map[int64]*scopeEvents),
		active: make(map[eventKey]*Event),
	}
}

func (s *EventStore) scope(scopeID int64) *scopeEvents {
	sc, ok := s.scopes[scopeID]
	if !ok {
		sc = &scopeEvents{byID: make(map[int64]*Event)}
		s.scopes[scopeID] = sc
	}
	return sc
}

// Add inserts an event in whatever state it is in.
func (s *EventStore) Add(e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(e)
}

func (s *EventStore) addLocked(e *Event) error {
	sc := s.scope(e.scopeID)
	id, ok := e.EventID()
	if !ok {
		sc.pending = append(sc.pending, e)
		return nil
	}
	if _, exists := sc.byID[id]; exists {
		return fmt.Errorf("%w: duplicate event id %d in scope %d", ErrInvalidEvent, id, e.scopeID)
	}
	sc.byID[id] = e
	if e.State() == StateActive {
		s.active[eventKey{scopeID: e.scopeID, eventID: id}] = e
	}
	return nil
}

// promote moves an event that was just activated out of the pending list.
func (s *EventStore) promote(e *Event) error {
	id, ok := e.EventID()
	if !ok {
		return fmt.Errorf("%w: event has no id", ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scope(e.scopeID)
	// 重複チェックに失敗したら pending に残す
	if existing, exists := sc.byID[id]; exists && existing != e {
		return fmt.Errorf("%w: duplicate event id %d in scope %d", ErrInvalidEvent, id, e.scopeID)
	}
	for i, p := range sc.pending {
		if p == e {
			sc.pending = append(sc.pending[:i], sc.pending[i+1:]...)
			break
		}
	}
	sc.byID[id] = e
	s.active[eventKey{scopeID: e.scopeID, eventID: id}] = e
	return nil
}

// markEnded drops the event from the expiry index.
func (s *EventStore) markEnded(scopeID, eventID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, eventKey{scopeID: scopeID, eventID: eventID})
}

func (s *EventStore) Get(scopeID, eventID int64) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[scopeID]
	if !ok {
		return nil, false
	}
	e, ok := sc.byID[eventID]
	return e, ok
}

// Remove deletes an event. The scope entry remains so the next flush clears its rows.
func (s *EventStore) Remove(scopeID, eventID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scopes[scopeID]
	if !ok {
		return false
	}
	if _, ok := sc.byID[eventID]; !ok {
		return false
	}
	delete(sc.byID, eventID)
	delete(s.active, eventKey{scopeID: scopeID, eventID: eventID})
	return true
}

// List returns pending events first, then the rest ordered by id.
func (s *EventStore) List(scopeID int64) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[scopeID]
	if !ok {
		return nil
	}
	out := make([]*Event, 0, len(sc.pending)+len(sc.byID))
	out = append(out, sc.pending...)
	ids := make([]int64, 0, len(sc.byID))
	for id := range sc.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out = append(out, sc.byID[id])
	}
	return out
}

// ActiveEvents snapshots the expiry index.
func (s *EventStore) ActiveEvents() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, e)
	}
	return out
}

// ActiveInScope returns Active events of one scope.
func (s *EventStore) ActiveInScope(scopeID int64) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for key, e := range s.active {
		if key.scopeID == scopeID {
			out = append(out, e)
		}
	}
	return out
}

// PendingEvents snapshots every pending list.
func (s *EventStore) PendingEvents() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, sc := range s.scopes {
		out = append(out, sc.pending...)
	}
	return out
}

// NextDue returns the earliest starts_at of a Pending event or ends_at of an Active one.
func (s *EventStore) NextDue() (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	consider := func(e *Event) {
		at, ok := e.dueAt()
		if !ok {
			return
		}
		if !found || at.Before(next) {
			next = at
			found = true
		}
	}
	for _, e := range s.PendingEvents() {
		consider(e)
	}
	for _, e := range s.ActiveEvents() {
		consider(e)
	}
	return next, found
}

// Scopes returns every scope id known to the store, sorted.
func (s *EventStore) Scopes() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.scopes))
	for id := range s.scopes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Export serializes one scope. Each event is copied under its own lock.
func (s *EventStore) Export(scopeID int64) []types.GiveawayRecord {
	events := s.List(scopeID)
	out := make([]types.GiveawayRecord, 0, len(events))
	for _, e := range events {
		out = append(out, e.Record())
	}
	return out
}

// PruneEnded removes Ended events whose ends_at is before the cutoff.
func (s *EventStore) PruneEnded(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for _, sc := range s.scopes {
		for id, e := range sc.byID {
			if e.State() == StateEnded && e.endsAt.Before(cutoff) {
				delete(sc.byID, id)
				pruned++
			}
		}
	}
	return pruned
}

// Flush writes every scope through the persister.
// A failing scope keeps its previous persisted state and does not stop the others.
func (s *EventStore) Flush(ctx context.Context, p Persister) error {
	var errs []error
	for _, scopeID := range s.Scopes() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		records := s.Export(scopeID)
		if err := p.SaveScope(ctx, scopeID, records); err != nil {
			logger.Error("Failed to flush giveaway scope",
				zap.Int64("scope_id", scopeID),
				zap.Int("events", len(records)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("scope %d: %w", scopeID, err))
		}
	}
	return errors.Join(errs...)
}

// Load replaces the in-memory contents with what the persister returns.
// Malformed records are skipped and logged.
func (s *EventStore) Load(ctx context.Context, p Persister) (int, error) {
	all, err := p.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load giveaways: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = make(map[int64]*scopeEvents)
	s.active = make(map[eventKey]*Event)

	loaded := 0
	for scopeID, records := range all {
		s.scope(scopeID)
		for _, rec := range records {
			rec.ScopeID = scopeID
			e, err := EventFromRecord(rec)
			if err != nil {
				logger.Warn("Skipping malformed giveaway record", zap.Int64("scope_id", scopeID), zap.Error(err))
				continue
			}
			if err := s.addLocked(e); err != nil {
				logger.Warn("Skipping giveaway record", zap.Int64("scope_id", scopeID), zap.Error(err))
				continue
			}
			loaded++
		}
	}
	return loaded, nil
}
