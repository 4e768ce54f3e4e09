package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/metrics"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// 次の期限が近い場合でもこれより短くは待たない
	minWait = 50 * time.Millisecond

	shutdownFlushTimeout = 10 * time.Second
)

type Config struct {
	Interval   time.Duration
	FlushEvery int
	Workers    int
	Retention  time.Duration
}

// Report summarizes one tick.
type Report struct {
	Activated int
	Ended     int
	Failed    int
	Flushed   bool
}

// Scheduler は定期的に期限を迎えたイベントを開始・終了させ、ストアを永続化する。
type Scheduler struct {
	service   *giveaway.Service
	persister giveaway.Persister
	cfg       Config
	ticks     int
}

func New(service *giveaway.Service, persister giveaway.Persister, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		service:   service,
		persister: persister,
		cfg:       cfg,
	}
}

// Run ticks until ctx is cancelled, then flushes once more.
// The wait shrinks when an event is due sooner than the interval.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("Giveaway scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("flush_every", s.cfg.FlushEvery))

	for {
		timer := time.NewTimer(s.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.shutdown()
			return nil
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		logger.Error("Final giveaway flush failed", zap.Error(err))
		return
	}
	logger.Info("Giveaway scheduler stopped")
}

func (s *Scheduler) nextWait() time.Duration {
	wait := s.cfg.Interval
	next, ok := s.service.NextDue()
	if !ok {
		return wait
	}
	until := next.Sub(s.service.Now())
	if until < wait {
		wait = until
	}
	if wait < minWait {
		wait = minWait
	}
	return wait
}

// Tick activates due Pending events, then ends due Active events.
// Each event runs in the worker pool; one failing event never stops the others.
func (s *Scheduler) Tick(ctx context.Context) Report {
	started := time.Now()
	now := s.service.Now()

	var activated, ended, failed atomic.Int64

	s.runEach(ctx, s.service.DuePending(now), func(ctx context.Context, ev *giveaway.Event) {
		if err := s.service.Activate(ctx, ev); err != nil {
			failed.Add(1)
			logger.Error("Failed to activate giveaway",
				zap.Int64("scope_id", ev.ScopeID()),
				zap.Time("starts_at", ev.StartsAt()),
				zap.Error(err))
			return
		}
		activated.Add(1)
	})

	s.runEach(ctx, s.service.DueActive(now), func(ctx context.Context, ev *giveaway.Event) {
		_, err := s.service.EndEvent(ctx, ev)
		if errors.Is(err, giveaway.ErrAlreadyEnded) {
			return
		}
		if err != nil {
			failed.Add(1)
			eventID, _ := ev.EventID()
			logger.Error("Failed to end giveaway",
				zap.Int64("scope_id", ev.ScopeID()),
				zap.Int64("event_id", eventID),
				zap.Error(err))
			return
		}
		ended.Add(1)
	})

	report := Report{
		Activated: int(activated.Load()),
		Ended:     int(ended.Load()),
		Failed:    int(failed.Load()),
	}

	s.ticks++
	if s.ticks%s.cfg.FlushEvery == 0 {
		if err := s.Flush(ctx); err == nil {
			report.Flushed = true
		}
	}

	metrics.SetActiveEvents(s.service.ActiveCount())
	metrics.TickDuration(time.Since(started))

	if report.Activated > 0 || report.Ended > 0 || report.Failed > 0 {
		logger.Debug("Giveaway tick",
			zap.Int("activated", report.Activated),
			zap.Int("ended", report.Ended),
			zap.Int("failed", report.Failed))
	}
	return report
}

func (s *Scheduler) runEach(ctx context.Context, events []*giveaway.Event, fn func(context.Context, *giveaway.Event)) {
	if len(events) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Recovered from panic in giveaway worker",
						zap.Int64("scope_id", ev.ScopeID()),
						zap.Any("panic", r))
				}
			}()
			fn(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// Flush prunes expired history from memory and persists every scope.
func (s *Scheduler) Flush(ctx context.Context) error {
	if pruned := s.service.PruneEnded(s.cfg.Retention); pruned > 0 {
		logger.Info("Pruned ended giveaways", zap.Int("count", pruned))
	}
	if s.persister == nil {
		return nil
	}
	err := s.service.Store().Flush(ctx, s.persister)
	metrics.Flush(err)
	return err
}
