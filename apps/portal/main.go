package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/genealogy/internal/clock"
	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/observability"
	"github.com/smallbiznis/genealogy/internal/server"
	"github.com/smallbiznis/genealogy/pkg/db"
	"go.uber.org/fx"
)

// The portal only serves token links handed to customers and field staff.
// Migrations are left to the API process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Domains,
		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterPublicRoutes()
		}),
		fx.Invoke(server.RunPortal),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
