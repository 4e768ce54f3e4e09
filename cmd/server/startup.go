package main

import (
	"context"
	"fmt"

	"github.com/ichi0g0y/giveaway-engine/internal/activity"
	"github.com/ichi0g0y/giveaway-engine/internal/env"
	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/localdb"
	"github.com/ichi0g0y/giveaway-engine/internal/members"
	"github.com/ichi0g0y/giveaway-engine/internal/scheduler"
	"github.com/ichi0g0y/giveaway-engine/internal/settings"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/webserver"
	"go.uber.org/zap"
)

type app struct {
	hub       *webserver.Hub
	server    *webserver.Server
	scheduler *scheduler.Scheduler
}

// newApp は DB・サービス・スケジューラ・HTTP を組み立て、保存済みのイベントを復元する
func newApp(ctx context.Context, cfg env.Env) (*app, error) {
	db, err := localdb.SetupDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}

	giveaways := localdb.NewGiveawayStore(db)
	settingsManager := settings.NewSettingsManager(db)
	directory := members.NewDirectory()
	hub := webserver.NewHub()

	deps := giveaway.Dependencies{
		Roles:     directory,
		Announcer: hub,
		Notifier:  hub,
		Settings:  settingsManager,
		History:   giveaways,
	}
	if cfg.ActivityAPIURL != "" {
		deps.Activity = activity.NewClient(cfg.ActivityAPIURL, cfg.ActivityAPIToken, cfg.ActivityAPITimeout)
		logger.Info("Activity provider enabled", zap.String("url", cfg.ActivityAPIURL))
	} else {
		logger.Info("Activity provider not configured, level and weekly requirements are skipped")
	}

	store := giveaway.NewEventStore()
	// 読み込めないまま起動すると次の flush で保存済みデータを上書きしてしまう
	loaded, err := store.Load(ctx, giveaways)
	if err != nil {
		_ = localdb.Close()
		return nil, err
	}
	logger.Info("Giveaways restored", zap.Int("count", loaded))

	service := giveaway.NewService(store, deps, giveaway.Options{
		Durations: giveaway.DurationPolicy{
			Min: cfg.MinDuration,
			Max: cfg.MaxDuration,
		},
		ActivityCooldown: cfg.ActivityCooldown,
	})

	sched := scheduler.New(service, giveaways, scheduler.Config{
		Interval:   cfg.SchedulerInterval,
		FlushEvery: cfg.SchedulerFlushEvery,
		Workers:    cfg.SchedulerWorkers,
		Retention:  cfg.Retention,
	})

	router := webserver.NewRouter(&webserver.API{
		Service:  service,
		Settings: settingsManager,
		History:  giveaways,
		Members:  directory,
		Hub:      hub,
	})

	return &app{
		hub:       hub,
		server:    webserver.NewServer(cfg.ServerPort, router),
		scheduler: sched,
	}, nil
}

func (a *app) close() {
	if err := localdb.Close(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}
}
