package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"grid_bot/internal/modules/config"
	"grid_bot/pkg/db"
	"grid_bot/pkg/logger"
)

// Module: пул к Postgres. Без DATABASE_DSN отдаёт nil, леджер пишет в файл.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DatabaseDSN == "" {
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DatabaseDSN,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				tx := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						tx.Close()
						return nil
					},
				})
				logger.Info("[PG] подключились, снимок леджера хранится в Postgres")
				return tx, nil
			},
		),
	)
}
