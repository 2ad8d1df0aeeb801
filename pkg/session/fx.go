package session

import (
	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// Module provides the session state manager and log reader for fx.
var Module = fx.Module("session",
	fx.Provide(func(cfg *config.Config, log *logger.Logger) *Manager {
		return NewManager(cfg.Resolve(cfg.Compaction.StateFile), log.Named("session"))
	}),
	fx.Provide(func(cfg *config.Config, log *logger.Logger) *LogReader {
		return NewLogReader(cfg.SessionsDir(), log.Named("session"))
	}),
)
