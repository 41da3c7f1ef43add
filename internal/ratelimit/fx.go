package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideLimiter),
	fx.Provide(NewLocker),
)

type limiterParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
	Clock  clock.Clock
}

// provideLimiter returns nil when rate limiting is disabled.
func provideLimiter(p limiterParams) Limiter {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil
	}
	if p.Redis != nil {
		return NewRedisLimiter(p.Redis, cfg.IPRate, cfg.IPBurst)
	}
	p.Log.Warn("rate limiting without redis is per instance",
		zap.Float64("rate", cfg.IPRate),
		zap.Int("burst", cfg.IPBurst),
	)
	return NewMemoryLimiter(cfg.IPRate, cfg.IPBurst, p.Clock)
}
