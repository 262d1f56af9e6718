package main

import (
	"context"

	"go.uber.org/fx"

	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health"
	"grid_bot/internal/modules/logging"
	"grid_bot/internal/modules/postgres"
	"grid_bot/internal/modules/trading"
	"grid_bot/internal/runner"
)

func main() {
	fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		logging.Module(),
		postgres.Module(),
		health.Module(),
		trading.Module(),
		runner.Module(),
	).Run()
}
