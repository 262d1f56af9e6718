package logging

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"grid_bot/internal/modules/config"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

const serviceName = "grid_bot"

// Module поднимает логгеры и, если задан агент, трейсер Jaeger.
func Module() fx.Option {
	return fx.Module("logging",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			logger.SetServiceName(serviceName)
			tracing.SetServiceName(serviceName)

			flush, err := logger.Init(logger.Config{
				Level:        cfg.LogLevel,
				File:         cfg.LogFile,
				TradeLogFile: cfg.TradeLogFile,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			closeTracer := func() {}
			tc := tracing.Config{Host: cfg.JaegerHost, Port: cfg.JaegerPort}
			if tc.Enabled() {
				_, closer, err := tracing.InitTracer(tc)
				if err != nil {
					logger.Warn("[TRACE] jaeger недоступен, работаем без трейсинга: %v", err)
				} else {
					closeTracer = closer
				}
			}

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					flush()
					return nil
				},
			})
			return nil
		}),
	)
}
