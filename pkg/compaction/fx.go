package compaction

import (
	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/delivery"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/tasks"
	"ctxkeep/pkg/workspace"
)

// Module provides the compaction Injector for fx.
var Module = fx.Module("compaction",
	fx.Provide(
		ProvideBriefBuilder,
		ProvideInjector,
	),
)

// ProvideBriefBuilder builds a brief builder from configuration.
func ProvideBriefBuilder(cfg *config.Config, taskStatus tasks.StatusProvider, ws *workspace.Manager, log *logger.Logger) *BriefBuilder {
	return NewBriefBuilder(taskStatus, ws, BriefOptions{
		Budget:           cfg.Compaction.BriefTokens,
		MinSection:       cfg.Compaction.MinSectionTokens,
		LongTermSections: cfg.Compaction.LongTermSections,
	}, log.Named("brief"))
}

// ProvideInjector builds the injector with rules from the configured file.
func ProvideInjector(cfg *config.Config, sessions *session.Manager, briefs *BriefBuilder, deliverer delivery.Deliverer, log *logger.Logger) *Injector {
	named := log.Named("compaction")
	rules := LoadRules(cfg.Resolve(cfg.Compaction.RulesFile), named)
	return NewInjector(sessions, rules, briefs, deliverer, Options{
		Window:          cfg.Compaction.WindowSize,
		InjectionBuffer: cfg.Compaction.InjectionBuffer,
	}, named)
}
