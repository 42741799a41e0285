package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/chamomilehq/chamomile/internal/apikey"
	"github.com/chamomilehq/chamomile/internal/auth"
	"github.com/chamomilehq/chamomile/internal/config"
	"github.com/chamomilehq/chamomile/internal/events"
	"github.com/chamomilehq/chamomile/internal/migration"
	"github.com/chamomilehq/chamomile/internal/observability"
	"github.com/chamomilehq/chamomile/internal/providers/email"
	"github.com/chamomilehq/chamomile/internal/registry"
	"github.com/chamomilehq/chamomile/internal/server"
	"github.com/chamomilehq/chamomile/internal/summarize"
	"github.com/chamomilehq/chamomile/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		// Functional domains
		events.Module,
		email.Module,
		auth.Module,
		apikey.Module,
		registry.Module,
		summarize.Module,

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
