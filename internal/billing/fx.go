package billing

import "go.uber.org/fx"

var Module = fx.Module("billing.stripe",
	fx.Provide(NewService),
)
