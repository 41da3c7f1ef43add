package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	"github.com/smallbiznis/creatorquota/internal/observability"
	"github.com/smallbiznis/creatorquota/internal/ratelimit"
	"github.com/smallbiznis/creatorquota/internal/scheduler"
	"github.com/smallbiznis/creatorquota/pkg/db"
	"github.com/smallbiznis/creatorquota/pkg/kv"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		kv.Module,
		clock.Module,

		// Maintenance jobs and the redis lease that keeps one worker per tick.
		contentcache.Module,
		ratelimit.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	// Distinct node id from the API process so job run ids never collide.
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
