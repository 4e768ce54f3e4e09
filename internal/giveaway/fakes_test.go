package giveaway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/types"
)

var errFake = errors.New("fake failure")

type fakeRoles struct {
	mu    sync.Mutex
	roles map[int64][]int64
	err   error
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: make(map[int64][]int64)}
}

func (f *fakeRoles) set(member int64, roles ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[member] = roles
}

func (f *fakeRoles) ResolveRoles(_ context.Context, _ int64, member int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.roles[member], nil
}

type fakeActivity struct {
	stats map[int64]ActivityStats
	err   error
	calls int
}

func (f *fakeActivity) Lookup(_ context.Context, _ int64, candidate int64) (ActivityStats, error) {
	f.calls++
	if f.err != nil {
		return ActivityStats{}, f.err
	}
	return f.stats[candidate], nil
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	next      int64
	announced []EventView
	results   []EndResult
	failNext  bool
	failAll   bool
}

func (f *fakeAnnouncer) Announce(_ context.Context, view EventView) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failNext {
		f.failNext = false
		return 0, errFake
	}
	f.next++
	f.announced = append(f.announced, view)
	return 1000 + f.next, nil
}

func (f *fakeAnnouncer) AnnounceResult(_ context.Context, _ EventView, result EndResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	if f.failAll {
		return errFake
	}
	return nil
}

type notification struct {
	member  int64
	message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, _ int64, member int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{member: member, message: message})
	return f.err
}

type fakeSettings struct {
	settings map[int64]types.GuildSettings
	err      error
}

func (f *fakeSettings) GetGuildSettings(scopeID int64) (types.GuildSettings, error) {
	if f.err != nil {
		return types.GuildSettings{}, f.err
	}
	gs, ok := f.settings[scopeID]
	if !ok {
		return types.GuildSettings{ScopeID: scopeID}, nil
	}
	return gs, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	rows []types.DrawHistory
}

func (f *fakeHistory) SaveDrawHistory(h types.DrawHistory) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, h)
	return int64(len(f.rows)), nil
}

type fakePersister struct {
	mu      sync.Mutex
	saved   map[int64][]types.GiveawayRecord
	failFor map[int64]bool
	loadErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		saved:   make(map[int64][]types.GiveawayRecord),
		failFor: make(map[int64]bool),
	}
}

func (f *fakePersister) SaveScope(_ context.Context, scopeID int64, records []types.GiveawayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[scopeID] {
		return errFake
	}
	f.saved[scopeID] = records
	return nil
}

func (f *fakePersister) LoadAll(context.Context) (map[int64][]types.GiveawayRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[int64][]types.GiveawayRecord, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock     *fakeClock
	store     *EventStore
	roles     *fakeRoles
	announcer *fakeAnnouncer
	notifier  *fakeNotifier
	settings  *fakeSettings
	history   *fakeHistory
	service   *Service
}

func newHarness() *harness {
	h := &harness{
		clock:     newFakeClock(),
		store:     NewEventStore(),
		roles:     newFakeRoles(),
		announcer: &fakeAnnouncer{},
		notifier:  &fakeNotifier{},
		settings:  &fakeSettings{settings: make(map[int64]types.GuildSettings)},
		history:   &fakeHistory{},
	}
	h.service = NewService(h.store, Dependencies{
		Roles:     h.roles,
		Announcer: h.announcer,
		Notifier:  h.notifier,
		Settings:  h.settings,
		History:   h.history,
	}, Options{
		Durations:        DurationPolicy{Min: 10 * time.Second, Max: 14 * 24 * time.Hour},
		ActivityCooldown: time.Second,
		Now:              h.clock.Now,
	})
	return h
}

func (h *harness) spec(scopeID int64, winners int, d time.Duration) EventSpec {
	now := h.clock.Now()
	return EventSpec{
		ScopeID:     scopeID,
		ChannelID:   77,
		HostID:      5,
		Prize:       "Nitro",
		WinnerCount: winners,
		StartsAt:    now,
		EndsAt:      now.Add(d),
	}
}

func intPtr(v int) *int {
	return &v
}
