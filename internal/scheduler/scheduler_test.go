package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingAnnouncer は特定の賞品名のイベントだけ告知に失敗する
type failingAnnouncer struct {
	mu      sync.Mutex
	next    int64
	failFor string
	results int
}

func (a *failingAnnouncer) Announce(_ context.Context, view giveaway.EventView) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if view.Prize == a.failFor {
		return 0, errors.New("channel unavailable")
	}
	a.next++
	return a.next, nil
}

func (a *failingAnnouncer) AnnounceResult(context.Context, giveaway.EventView, giveaway.EndResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results++
	return nil
}

type memoryPersister struct {
	mu      sync.Mutex
	flushes int
	saved   map[int64][]types.GiveawayRecord
}

func (p *memoryPersister) SaveScope(_ context.Context, scopeID int64, records []types.GiveawayRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saved == nil {
		p.saved = make(map[int64][]types.GiveawayRecord)
	}
	p.saved[scopeID] = records
	p.flushes++
	return nil
}

func (p *memoryPersister) LoadAll(context.Context) (map[int64][]types.GiveawayRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved, nil
}

func (p *memoryPersister) flushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

type fixture struct {
	clock     *clock
	announcer *failingAnnouncer
	persister *memoryPersister
	service   *giveaway.Service
}

func newFixture(cfg Config) (*fixture, *Scheduler) {
	f := &fixture{
		clock:     &clock{now: time.UnixMilli(1_700_000_000_000)},
		announcer: &failingAnnouncer{},
		persister: &memoryPersister{},
	}
	f.service = giveaway.NewService(giveaway.NewEventStore(), giveaway.Dependencies{
		Announcer: f.announcer,
	}, giveaway.Options{
		Durations: giveaway.DurationPolicy{Min: 10 * time.Second, Max: 14 * 24 * time.Hour},
		Now:       f.clock.Now,
	})
	return f, New(f.service, f.persister, cfg)
}

func (f *fixture) create(t *testing.T, prize string, startIn, length time.Duration) *giveaway.Event {
	t.Helper()
	now := f.clock.Now()
	ev, err := f.service.Create(context.Background(), giveaway.EventSpec{
		ScopeID:     1,
		Prize:       prize,
		WinnerCount: 1,
		StartsAt:    now.Add(startIn),
		EndsAt:      now.Add(startIn + length),
	})
	require.NoError(t, err)
	return ev
}

func TestTick_EndsDueEventWithOneWinner(t *testing.T) {
	f, s := newFixture(Config{Workers: 2, FlushEvery: 100})
	ev := f.create(t, "Nitro", 0, 10*time.Second)
	id, ok := ev.EventID()
	require.True(t, ok)
	for _, c := range []int64{1, 2, 3} {
		_, err := f.service.Enter(context.Background(), 1, id, c)
		require.NoError(t, err)
	}

	report := s.Tick(context.Background())
	assert.Zero(t, report.Ended)
	assert.Equal(t, giveaway.StateActive, ev.State())

	f.clock.Advance(11 * time.Second)
	report = s.Tick(context.Background())
	assert.Equal(t, 1, report.Ended)
	assert.Equal(t, giveaway.StateEnded, ev.State())

	winners := ev.View().Winners
	require.Len(t, winners, 1)
	assert.Contains(t, []int64{1, 2, 3}, winners[0])
	assert.Equal(t, 1, f.announcer.results)
}

func TestTick_ActivatesThenEndsInOnePass(t *testing.T) {
	f, s := newFixture(Config{Workers: 1, FlushEvery: 100})
	ev := f.create(t, "Nitro", time.Minute, 10*time.Second)
	assert.Equal(t, giveaway.StatePending, ev.State())

	f.clock.Advance(time.Minute)
	report := s.Tick(context.Background())
	assert.Equal(t, 1, report.Activated)
	assert.Equal(t, giveaway.StateActive, ev.State())

	// 開始と終了の両方を過ぎていれば同じ tick で終了まで進む
	late := f.create(t, "Late", time.Second, 10*time.Second)
	f.clock.Advance(time.Hour)
	report = s.Tick(context.Background())
	assert.Equal(t, 1, report.Activated)
	assert.Equal(t, 2, report.Ended)
	assert.Equal(t, giveaway.StateEnded, late.State())
}

func TestTick_FailuresAreIsolated(t *testing.T) {
	f, s := newFixture(Config{Workers: 4, FlushEvery: 100})
	f.announcer.failFor = "Broken"

	broken := f.create(t, "Broken", time.Second, time.Minute)
	fine := make([]*giveaway.Event, 0, 5)
	for i := 0; i < 5; i++ {
		fine = append(fine, f.create(t, "Fine", time.Second, time.Minute))
	}

	f.clock.Advance(time.Second)
	report := s.Tick(context.Background())
	assert.Equal(t, 5, report.Activated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, giveaway.StatePending, broken.State())
	for _, ev := range fine {
		assert.Equal(t, giveaway.StateActive, ev.State())
	}

	// 次の tick で再試行される
	f.announcer.failFor = ""
	report = s.Tick(context.Background())
	assert.Equal(t, 1, report.Activated)
	assert.Equal(t, giveaway.StateActive, broken.State())
}

func TestTick_FlushesEveryN(t *testing.T) {
	f, s := newFixture(Config{Workers: 1, FlushEvery: 3})
	f.create(t, "Nitro", 0, time.Minute)

	for i := 0; i < 2; i++ {
		assert.False(t, s.Tick(context.Background()).Flushed)
	}
	assert.Zero(t, f.persister.flushCount())

	assert.True(t, s.Tick(context.Background()).Flushed)
	assert.Equal(t, 1, f.persister.flushCount())
	assert.Len(t, f.persister.saved[1], 1)
}

func TestRun_FlushesOnShutdown(t *testing.T) {
	f, s := newFixture(Config{Interval: 10 * time.Millisecond, Workers: 1, FlushEvery: 1000})
	f.create(t, "Nitro", 0, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, f.persister.flushCount())
}

func TestNextWait_ShrinksToSoonestDue(t *testing.T) {
	f, s := newFixture(Config{Interval: time.Minute})
	assert.Equal(t, time.Minute, s.nextWait())

	f.create(t, "Nitro", 0, 20*time.Second)
	assert.Equal(t, 20*time.Second, s.nextWait())

	f.clock.Advance(30 * time.Second)
	assert.Equal(t, minWait, s.nextWait())
}

func TestFlush_PrunesExpiredEnded(t *testing.T) {
	f, s := newFixture(Config{Workers: 1, FlushEvery: 1, Retention: time.Hour})
	ev := f.create(t, "Nitro", 0, 10*time.Second)
	id, _ := ev.EventID()

	f.clock.Advance(11 * time.Second)
	s.Tick(context.Background())
	assert.Len(t, f.persister.saved[1], 1)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, f.persister.saved[1])
	_, err := f.service.Get(1, id)
	assert.ErrorIs(t, err, giveaway.ErrEventNotFound)
}
