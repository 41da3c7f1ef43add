package auth

import (
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("auth",
	fx.Provide(provideVerifier),
)

func provideVerifier(cfg config.Config, clk clock.Clock, log *zap.Logger) *Verifier {
	if cfg.AuthJWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty; authenticated routes will reject every request")
	}
	return NewVerifier(cfg.AuthJWTSecret, clk)
}
