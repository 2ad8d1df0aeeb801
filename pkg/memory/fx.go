package memory

import (
	"context"

	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/embedding"
	"ctxkeep/pkg/logger"
)

// Module provides the embedding provider and chunk store for fx.
var Module = fx.Module("memory",
	fx.Provide(
		NewProviderFromConfig,
		NewStoreFromConfig,
	),
)

// NewProviderFromConfig builds the configured embedding provider.
func NewProviderFromConfig(cfg *config.Config) (embedding.Provider, error) {
	return embedding.New(cfg.Embedding)
}

// NewStoreFromConfig creates the store and closes it on shutdown.
func NewStoreFromConfig(cfg *config.Config, provider embedding.Provider, log *logger.Logger, lc fx.Lifecycle) *Store {
	store := NewStore(OptionsFromConfig(cfg), provider, log.Named("memory"))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store
}
