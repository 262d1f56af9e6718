package trading

import (
	"context"

	"go.uber.org/fx"

	"grid_bot/internal/engine"
	"grid_bot/internal/exchange"
	"grid_bot/internal/executor"
	"grid_bot/internal/grid"
	"grid_bot/internal/ledger"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health"
	"grid_bot/internal/modules/health/service"
	"grid_bot/internal/notify"
	"grid_bot/pkg/db"
	"grid_bot/pkg/logger"
)

// NewExchange: Bybit, либо бумажная биржа поверх стрима Bybit.
func NewExchange(cfg *config.Config, hs *service.State) exchange.Exchange {
	bybit := exchange.NewBybitClient(exchange.Config{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Demo:       cfg.DemoMode,
		MaxRetries: cfg.APIRetries,
	})
	bybit.OnConnState(hs.SetWSConnected)
	if !cfg.PaperTrading {
		if cfg.DemoMode {
			logger.Info("[EXCHANGE] Bybit demo")
		}
		return bybit
	}
	logger.Info("[EXCHANGE] бумажная торговля: %.2f %s, комиссия %.4f",
		cfg.PaperQuoteBalance, cfg.QuoteCoin, cfg.PaperFeeRate)
	return exchange.NewPaper(exchange.PaperConfig{
		Symbol:       cfg.Symbol(),
		BaseCoin:     cfg.BaseCoin,
		QuoteCoin:    cfg.QuoteCoin,
		QuoteBalance: cfg.PaperQuoteBalance,
		FeeRate:      cfg.PaperFeeRate,
	}, bybit)
}

// NewStore: Postgres при заданном DATABASE_DSN, иначе JSON-файл.
func NewStore(ctx context.Context, cfg *config.Config, tx *db.PgTxManager) (ledger.Store, error) {
	if tx == nil {
		return ledger.NewFileStore(cfg.PositionsFile), nil
	}
	store, err := ledger.NewPgStore(ctx, tx, cfg.Symbol())
	if err != nil {
		return nil, err
	}
	return store, nil
}

func NewLedger(cfg *config.Config, ex exchange.Exchange, store ledger.Store) *ledger.Ledger {
	return ledger.New(ledger.Config{Symbol: cfg.Symbol(), BaseCoin: cfg.BaseCoin}, ex, store)
}

func NewExecutor(cfg *config.Config, ex exchange.Exchange) *executor.Executor {
	e := executor.New(executor.Config{
		Symbol:      cfg.Symbol(),
		MaxAttempts: cfg.RetryCount,
		Delay:       cfg.RetryDelay,
	}, ex, executor.RealClock())
	logger.Info("[EXECUTOR] ожидание исполнения до %s на ордер", e.WorstCaseLatency())
	return e
}

// NewNotifier: Telegram, если включён; иначе всё уходит в лог.
func NewNotifier(cfg *config.Config) (notify.Notifier, *notify.Telegram, error) {
	if !cfg.Telegram.Enabled {
		return notify.NewStdout(), nil, nil
	}
	tg, err := notify.NewTelegram(notify.TelegramConfig{
		Token:        cfg.Telegram.Token,
		ChatID:       cfg.Telegram.ChatID,
		Symbol:       cfg.Symbol(),
		BaseCoin:     cfg.BaseCoin,
		QuoteCoin:    cfg.QuoteCoin,
		ProfitTarget: cfg.ProfitTarget,
	})
	if err != nil {
		return nil, nil, err
	}
	return tg, tg, nil
}

func NewEngine(cfg *config.Config, l *ledger.Ledger, ex *executor.Executor, w exchange.Exchange, n notify.Notifier) *engine.Engine {
	return engine.New(engine.Config{
		Symbol:    cfg.Symbol(),
		BaseCoin:  cfg.BaseCoin,
		QuoteCoin: cfg.QuoteCoin,
		Grid: grid.Params{
			Step:   cfg.LevelStep,
			Offset: cfg.LevelOffset,
			Type:   cfg.GridType,
		},
		OrderSize:         cfg.OrderSize,
		ProfitTarget:      cfg.ProfitTarget,
		MaxCriticalErrors: cfg.MaxCriticalErrors,
	}, l, ex, w, n)
}

func runTelegram(lc fx.Lifecycle, tg *notify.Telegram, l *ledger.Ledger, eng *engine.Engine) {
	if tg == nil {
		return
	}
	tg.Attach(l, eng)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return tg.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return tg.Stop(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("trading",
		fx.Provide(
			NewExchange,
			NewStore,
			NewLedger,
			NewExecutor,
			NewNotifier,
			NewEngine,
			func(l *ledger.Ledger) health.Positions { return l },
		),
		fx.Invoke(runTelegram),
	)
}
