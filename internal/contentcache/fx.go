package contentcache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("content.cache",
	fx.Provide(provideStore),
	fx.Provide(NewService),
)

type storeParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Redis  *redis.Client `optional:"true"`
	Clock  clock.Clock
}

func provideStore(p storeParams) Store {
	log := p.Log.Named("contentcache")
	switch p.Config.Cache.Backend {
	case config.CacheBackendRedis:
		if p.Redis == nil {
			log.Warn("redis cache backend selected without redis; using database")
			return NewDatabaseStore(p.DB)
		}
		return NewRedisStore(p.Redis)
	case config.CacheBackendMemory:
		log.Warn("content cache is process local")
		return NewMemoryStore(p.Clock, p.Config.Cache.MemoryCapacity)
	case config.CacheBackendNoop:
		return NewNoopStore()
	default:
		return NewDatabaseStore(p.DB)
	}
}
