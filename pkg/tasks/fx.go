package tasks

import (
	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// Module provides the task board reader for fx.
var Module = fx.Module("tasks",
	fx.Provide(
		func(cfg *config.Config, log *logger.Logger) *BoardReader {
			return NewBoardReader(cfg.Resolve(cfg.Tasks.BoardFile), log.Named("tasks"))
		},
		func(r *BoardReader) StatusProvider { return r },
	),
)
