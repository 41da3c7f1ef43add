package prediction

import "go.uber.org/fx"

var Module = fx.Module("prediction.webhook",
	fx.Provide(NewService),
)
