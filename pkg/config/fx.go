package config

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
)

// Module provides configuration for fx dependency injection.
var Module = fx.Module("config",
	fx.Provide(ProvideLoader),
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLoggerConfig),
)

// ModuleWithPath is Module reading the config from an explicit path. An
// empty path falls back to the default lookup.
func ModuleWithPath(path string) fx.Option {
	return fx.Module("config",
		fx.Provide(ProvideLoader),
		fx.Provide(ProvideConfigWithPath(path)),
		fx.Provide(ProvideLoggerConfig),
	)
}

// ProvideLoader provides a configuration loader.
func ProvideLoader() *Loader {
	return NewLoader()
}

// ProvideConfig provides loaded and validated configuration.
func ProvideConfig(loader *Loader) (*Config, error) {
	return ProvideConfigWithPath("")(loader)
}

// ProvideConfigWithPath provides configuration from a specific path.
func ProvideConfigWithPath(path string) func(*Loader) (*Config, error) {
	return func(loader *Loader) (*Config, error) {
		cfg, err := loader.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if err := ValidateConfig(cfg); err != nil {
			return nil, err
		}
		if err := cfg.EnsureWorkspace(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
}

// ProvideLoggerConfig derives the logger settings from the loaded config.
func ProvideLoggerConfig(cfg *Config) *logger.Config {
	return cfg.Logger.ToLoggerConfig(cfg.Resolve)
}

// ProvideWatcher provides a configuration watcher with hot-reload.
func ProvideWatcher(loader *Loader, cfg *Config, lc fx.Lifecycle, log *logger.Logger) (*Watcher, error) {
	watcher := NewWatcher(loader, cfg, log)

	watcher.AddHandler(func(c Change) error {
		log.Info("Configuration reloaded", zap.Strings("sections", c.Sections))
		if !c.Has("logger") {
			return nil
		}
		level := logger.ParseLevel(c.New.Logger.Level)
		if level == log.Level() {
			return nil
		}
		log.Info("Changing log level", zap.String("from", string(log.Level())), zap.String("to", string(level)))
		return log.SetLevel(level)
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting configuration watcher")
			return watcher.Start()
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping configuration watcher")
			watcher.Stop()
			return nil
		},
	})

	return watcher, nil
}
