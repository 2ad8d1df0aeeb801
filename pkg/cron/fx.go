package cron

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/memory"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/state"
	"ctxkeep/pkg/summarizer"
	"ctxkeep/pkg/workspace"
)

// Module is the fx module for the job scheduler.
var Module = fx.Module("cron",
	fx.Provide(NewManager),
)

// NewManager creates the scheduler with the retention jobs and ties it to
// the fx lifecycle. With scheduling disabled the jobs are registered but
// the scheduler is never started.
func NewManager(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *logger.Logger,
	kv state.KV,
	sum *summarizer.Summarizer,
	store *memory.Store,
	curator *workspace.Curator,
	sessions *session.Manager,
) (*Manager, error) {
	manager := New(log.Named("cron"), kv)
	jobs := RetentionJobs(cfg, Deps{Summarizer: sum, Store: store, Curator: curator, Sessions: sessions})
	for _, job := range jobs {
		if err := manager.Add(job); err != nil {
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Schedule.Enabled {
				log.Info("Scheduling disabled")
				return nil
			}
			manager.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.Schedule.Enabled {
				manager.Stop()
			}
			return nil
		},
	})

	log.Debug("Registered retention jobs", zap.Int("count", len(jobs)))
	return manager, nil
}
