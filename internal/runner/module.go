package runner

import (
	"context"

	"go.uber.org/fx"

	"grid_bot/internal/engine"
	"grid_bot/internal/exchange"
	"grid_bot/internal/ledger"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health/service"
	"grid_bot/internal/notify"
	"grid_bot/internal/stats"
)

func NewConfig(cfg *config.Config) Config {
	return Config{
		Symbol:        cfg.Symbol(),
		BaseCoin:      cfg.BaseCoin,
		QuoteCoin:     cfg.QuoteCoin,
		ProfitTarget:  cfg.ProfitTarget,
		StatsInterval: cfg.StatsInterval,
	}
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewConfig,
			func(cfg *config.Config) *Queue {
				return NewQueue(cfg.QueueSize, cfg.QueuePolicy)
			},
			func(cfg *config.Config) *stats.Writer {
				return stats.NewWriter(cfg.StatsFile)
			},
			func(
				cfg Config,
				ex exchange.Exchange,
				l *ledger.Ledger,
				eng *engine.Engine,
				q *Queue,
				n notify.Notifier,
				h *service.State,
				w *stats.Writer,
				sd fx.Shutdowner,
			) *Runner {
				return New(cfg, ex, l, eng, q, n, h, w, sd)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return r.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return r.Stop(ctx)
				},
			})
		}),
	)
}
