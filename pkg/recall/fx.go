package recall

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/memory"
)

// Module provides the recall Hook for fx and watches its config file
// while the application runs.
var Module = fx.Module("recall",
	fx.Provide(
		func(cfg *config.Config, log *logger.Logger) *ConfigStore {
			return NewConfigStore(cfg.Resolve(cfg.Recall.ConfigFile), log.Named("recall"))
		},
		func(cfg *config.Config) *InjectionLog {
			return NewInjectionLog(cfg.Resolve(cfg.Recall.LogFile))
		},
		ProvideHook,
	),
	fx.Invoke(watchConfig),
)

// ProvideHook builds the hook over the embedding store.
func ProvideHook(store *memory.Store, configs *ConfigStore, injects *InjectionLog, log *logger.Logger) *Hook {
	return NewHook(store, configs, injects, log.Named("recall"))
}

func watchConfig(lc fx.Lifecycle, configs *ConfigStore, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			configs.Get()
			if err := configs.Watch(ctx); err != nil {
				log.Warn("Recall config watcher unavailable, falling back to per-call reload", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
