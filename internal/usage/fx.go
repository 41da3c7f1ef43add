package usage

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/resetpolicy"
	usagedomain "github.com/smallbiznis/creatorquota/internal/usage/domain"
	"github.com/smallbiznis/creatorquota/internal/usage/repository"
	"github.com/smallbiznis/creatorquota/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("usage.service",
	fx.Provide(provideStore),
	fx.Provide(service.NewService),
)

type storeParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	GenID  *snowflake.Node
	Policy *resetpolicy.Policy
	Clock  clock.Clock
}

func provideStore(p storeParams) usagedomain.Store {
	if p.Config.Usage.Store == config.StoreNoop {
		p.Log.Warn("usage store is noop; quotas are not enforced")
		return repository.NewNoopStore(p.Policy, p.Clock)
	}
	return repository.NewGormStore(p.DB, p.GenID, p.Policy, p.Clock)
}
