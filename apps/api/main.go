package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/migration"
	"github.com/smallbiznis/genealogy/internal/observability"
	"github.com/smallbiznis/genealogy/internal/server"
	"github.com/smallbiznis/genealogy/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Domains,
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
