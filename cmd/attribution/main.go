package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/inkstory/attribution/internal/migration"
	"github.com/inkstory/attribution/internal/observability"
	"github.com/inkstory/attribution/internal/server"
	"github.com/inkstory/attribution/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure. config.Module rides in with server.Module.
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		// HTTP edge plus the referral, earnings and ads domains.
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
