package delivery

import (
	"context"

	"go.uber.org/fx"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/logger"
)

// Module provides the configured Deliverer for fx.
var Module = fx.Module("delivery",
	fx.Provide(ProvideDeliverer),
)

// ProvideDeliverer builds the configured backend and closes it on stop.
func ProvideDeliverer(cfg *config.Config, log *logger.Logger, lc fx.Lifecycle) (Deliverer, error) {
	d, err := New(cfg.Delivery, cfg.Resolve, log.Named("delivery"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Close()
		},
	})
	return d, nil
}
