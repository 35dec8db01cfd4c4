package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hourbill/hourbill/internal/clock"
	"github.com/hourbill/hourbill/internal/config"
	"github.com/hourbill/hourbill/internal/migration"
	"github.com/hourbill/hourbill/internal/observability"
	"github.com/hourbill/hourbill/internal/server"
	"github.com/hourbill/hourbill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
		migration.Module,
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
