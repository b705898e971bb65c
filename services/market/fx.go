package market

import "go.uber.org/fx"

var Module = fx.Module("market.service",
	fx.Provide(NewService),
)
