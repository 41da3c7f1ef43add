package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/config"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	"github.com/smallbiznis/creatorquota/internal/migration"
	"github.com/smallbiznis/creatorquota/internal/observability"
	"github.com/smallbiznis/creatorquota/internal/scheduler"
	"github.com/smallbiznis/creatorquota/internal/server"
	"github.com/smallbiznis/creatorquota/pkg/db"
	"github.com/smallbiznis/creatorquota/pkg/kv"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		kv.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		contentcache.Module,
		server.Module,

		// Runs only when SCHEDULER_ENABLED is set; apps/worker is the
		// dedicated maintenance process.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
