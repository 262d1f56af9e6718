package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"grid_bot/internal/engine"
	"grid_bot/internal/helper"
	"grid_bot/internal/ledger"
	"grid_bot/internal/models"
	"grid_bot/internal/stats"
	"grid_bot/pkg/logger"
)

type Exchange interface {
	InstrumentPrecision(ctx context.Context, symbol string) (models.Instrument, error)
	WalletBalance(ctx context.Context, coin string) (models.Balance, error)
	StreamTickers(ctx context.Context, symbol string) <-chan models.Tick
}

type Ledger interface {
	Reconcile(ctx context.Context, src ledger.Source, inFlight float64) ([]models.Position, error)
	Positions() []models.Position
}

type Engine interface {
	OnTick(ctx context.Context, tick models.Tick) error
	SetInstrument(inst models.Instrument)
	RequestReconcile()
	Snapshot() engine.Snapshot
}

type Notifier interface {
	Send(msg string)
}

type Health interface {
	SetReady(v bool)
	SetHalted(v bool)
	TouchTick(t time.Time)
}

type Config struct {
	Symbol        string
	BaseCoin      string
	QuoteCoin     string
	ProfitTarget  float64
	StatsInterval time.Duration
}

// Runner связывает стрим цен, очередь и движок.
type Runner struct {
	cfg      Config
	ex       Exchange
	ledger   Ledger
	engine   Engine
	queue    *Queue
	notify   Notifier
	health   Health
	stats    *stats.Writer
	shutdown fx.Shutdowner

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func New(cfg Config, ex Exchange, l Ledger, eng Engine, q *Queue, n Notifier, h Health, w *stats.Writer, sd fx.Shutdowner) *Runner {
	return &Runner{
		cfg:      cfg,
		ex:       ex,
		ledger:   l,
		engine:   eng,
		queue:    q,
		notify:   n,
		health:   h,
		stats:    w,
		shutdown: sd,
	}
}

// Start: точность инструмента, баланс, восстановление леджера, затем горутины.
// Ошибка здесь фатальна для процесса.
func (r *Runner) Start(ctx context.Context) error {
	inst, err := r.ex.InstrumentPrecision(ctx, r.cfg.Symbol)
	if err != nil {
		return errors.Wrapf(err, "instrument %s", r.cfg.Symbol)
	}
	r.engine.SetInstrument(inst)
	logger.Info("[RUNNER] %s: точность qty %d знаков", r.cfg.Symbol, inst.BasePrecision)

	if err := r.banner(ctx); err != nil {
		return err
	}

	positions, err := r.ledger.Reconcile(ctx, ledger.SourceCache, 0)
	if err != nil {
		logger.Warn("[RUNNER] не удалось восстановить позиции, сверка на первом тике: %v", err)
		r.engine.RequestReconcile()
	} else {
		logger.Info("[RUNNER] восстановлено лотов: %d", len(positions))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(3)
	go r.produce(runCtx)
	go r.consume(runCtx)
	go r.statsLoop(runCtx)

	r.health.SetReady(true)
	r.notify.Send(fmt.Sprintf("🚀 Грид-бот %s запущен, лотов в работе: %d", r.cfg.Symbol, len(positions)))
	return nil
}

// banner: стартовый баланс базовой монеты; ошибка означает проблемы с ключами.
func (r *Runner) banner(ctx context.Context) error {
	bal, err := r.ex.WalletBalance(ctx, r.cfg.BaseCoin)
	if err != nil {
		return errors.Wrap(err, "wallet balance")
	}
	logger.Info("[RUNNER] Баланс %s: %s (≈ %.2f USD), equity аккаунта %.2f USD",
		r.cfg.BaseCoin, helper.FormatQty(bal.Qty, 8), bal.USDValue, bal.Equity)

	if quote, err := r.ex.WalletBalance(ctx, r.cfg.QuoteCoin); err == nil {
		logger.Info("[RUNNER] Баланс %s: %.2f", r.cfg.QuoteCoin, quote.Qty)
	}
	return nil
}

func (r *Runner) produce(ctx context.Context) {
	defer r.wg.Done()
	ticks := r.ex.StreamTickers(ctx, r.cfg.Symbol)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			r.health.TouchTick(time.Now())
			r.queue.Push(ctx, t)
		}
	}
}

func (r *Runner) consume(ctx context.Context) {
	defer r.wg.Done()
	err := r.queue.Run(ctx, r.engine.OnTick)
	if err == nil {
		return
	}

	r.health.SetHalted(true)
	if errors.Is(err, models.ErrTradingHalted) {
		logger.Error("[RUNNER] kill-switch: %v", err)
	} else {
		logger.Error("[RUNNER] потребитель тиков остановлен: %v", err)
	}
	r.writeStats()
	if err := r.shutdown.Shutdown(fx.ExitCode(1)); err != nil {
		logger.Error("[RUNNER] shutdown: %v", err)
	}
}

func (r *Runner) statsLoop(ctx context.Context) {
	defer r.wg.Done()
	if r.cfg.StatsInterval <= 0 {
		return
	}
	t := time.NewTicker(r.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.writeStats()
		}
	}
}

func (r *Runner) writeStats() {
	snap := stats.Build(r.cfg.Symbol, r.engine.Snapshot(), r.ledger.Positions(), r.cfg.ProfitTarget, time.Now())
	if err := r.stats.Write(snap); err != nil {
		logger.Warn("[STATS] не удалось записать статистику: %v", err)
	}
	logger.Info("%s | очередь %d, отброшено %d", snap.Summary(), r.queue.Len(), r.queue.Dropped())
}

// Stop: потребитель дорабатывает текущий тик; ордера в полёте не отменяются.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		logger.Warn("[RUNNER] не дождались завершения тика: %v", err)
	}
	r.health.SetReady(false)
	r.once.Do(r.writeStats)
	logger.Info("[RUNNER] остановлен")
	return err
}
