package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/octue/twined-server/internal/clock"
	"github.com/octue/twined-server/internal/config"
	"github.com/octue/twined-server/internal/migration"
	"github.com/octue/twined-server/internal/server"
	"github.com/octue/twined-server/pkg/db"
	"github.com/octue/twined-server/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(config.NewServicesConfigHolder),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
