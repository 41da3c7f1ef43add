package resetpolicy

import (
	"github.com/smallbiznis/creatorquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reset.policy",
	fx.Provide(provide),
)

func provide(cfg config.Config, log *zap.Logger) *Policy {
	p := New(cfg.Usage.Timezone, cfg.Usage.FallbackOffsetHours)
	if p.Approximate() {
		log.Warn("usage timezone could not be loaded, using fixed offset",
			zap.String("timezone", cfg.Usage.Timezone),
			zap.String("fallback", p.Location().String()),
		)
	}
	return p
}
