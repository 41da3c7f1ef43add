package ideas

import (
	"github.com/smallbiznis/creatorquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ideas.service",
	fx.Provide(provideGenerator),
	fx.Provide(NewService),
)

func provideGenerator(cfg config.Config, log *zap.Logger) Generator {
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is empty; idea generation is disabled")
		return nil
	}
	return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
}
