package summarizer

import (
	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/workspace"
)

// Module provides the Summarizer for fx.
var Module = fx.Module("summarizer",
	fx.Provide(ProvideSummarizer),
)

// ProvideSummarizer builds a summarizer from configuration.
func ProvideSummarizer(cfg *config.Config, reader *session.LogReader, ws *workspace.Manager, log *logger.Logger) *Summarizer {
	return New(reader, ws, Options{
		TopTopics: cfg.Summarizer.TopTopics,
		MaxItems:  cfg.Summarizer.MaxItems,
	}, log.Named("summarizer"))
}
