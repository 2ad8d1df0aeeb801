package workspace

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// Module provides workspace functionality.
var Module = fx.Module("workspace",
	fx.Provide(ProvideManager),
	fx.Provide(ProvideCurator),
	fx.Invoke(InitializeWorkspace),
)

// ProvideManager creates a workspace manager from configuration.
func ProvideManager(cfg *config.Config, log *logger.Logger) *Manager {
	return NewManager(cfg.WorkspacePath(), log.Named("workspace"))
}

// ProvideCurator creates the long-term memory curator.
func ProvideCurator(manager *Manager, log *logger.Logger) *Curator {
	return NewCurator(manager, DefaultCuratorOptions(), log.Named("curator"))
}

// InitializeWorkspace ensures the workspace is initialized on startup.
func InitializeWorkspace(lc fx.Lifecycle, manager *Manager, log *logger.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := manager.Ensure(); err != nil {
				log.Warn("Failed to initialize workspace, continuing anyway", zap.Error(err))
			} else {
				log.Info("Workspace initialized", zap.String("path", manager.Dir()))
			}
			return nil
		},
	})
}
