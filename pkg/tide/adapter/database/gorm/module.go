package gorm

import (
	"context"

	"go.uber.org/fx"
)

func registerLifecycle(lc fx.Lifecycle, p *Provider) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.CloseAll()
		},
	})
}

// Module provides the connection Provider and closes its connections on stop.
var Module = fx.Options(
	fx.Provide(NewProvider),
	fx.Invoke(registerLifecycle),
)
