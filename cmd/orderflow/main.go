package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/orderflow/internal/clock"
	"github.com/smallbiznis/orderflow/internal/config"
	"github.com/smallbiznis/orderflow/internal/migration"
	"github.com/smallbiznis/orderflow/internal/observability"
	"github.com/smallbiznis/orderflow/internal/server"
	"github.com/smallbiznis/orderflow/pkg/db"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface and the checkout domains behind it
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		panic(err)
	}
	return node
}
