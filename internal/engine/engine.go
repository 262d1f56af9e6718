package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid_bot/internal/executor"
	"grid_bot/internal/grid"
	"grid_bot/internal/helper"
	"grid_bot/internal/ledger"
	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
)

type Ledger interface {
	Reconcile(ctx context.Context, src ledger.Source, inFlight float64) ([]models.Position, error)
	Positions() []models.Position
	Get(orderID string) (models.Position, bool)
	Remove(ctx context.Context, orderID string) (bool, error)
}

type Executor interface {
	Execute(ctx context.Context, side models.Side, size executor.SizeSpec, linkID string) (executor.Outcome, error)
}

type Wallet interface {
	WalletBalance(ctx context.Context, coin string) (models.Balance, error)
}

type Notifier interface {
	Send(msg string)
}

type Config struct {
	Symbol            string
	BaseCoin          string
	QuoteCoin         string
	Grid              grid.Params
	OrderSize         float64 // в котируемой монете
	ProfitTarget      float64
	MaxCriticalErrors int
	BasePrecision     int
	MinOrderQty       float64 // минимальный qty продажи в базовой монете
}

// Engine принимает решения по одному тику за раз.
// OnTick вызывается только из одной горутины.
type Engine struct {
	cfg    Config
	ledger Ledger
	exec   Executor
	wallet Wallet
	notify Notifier
	now    func() time.Time

	state State
	stats Stats

	mu   sync.RWMutex
	snap Snapshot
}

func New(cfg Config, l Ledger, ex Executor, w Wallet, n Notifier) *Engine {
	if cfg.MaxCriticalErrors <= 0 {
		cfg.MaxCriticalErrors = 5
	}
	if cfg.BasePrecision <= 0 {
		cfg.BasePrecision = 6
	}
	e := &Engine{cfg: cfg, ledger: l, exec: ex, wallet: w, notify: n, now: time.Now}
	e.stats.StartedAt = e.now()
	e.publish()
	return e
}

// SetInstrument: точность и минимальный qty инструмента, читаются при старте.
func (e *Engine) SetInstrument(inst models.Instrument) {
	if inst.BasePrecision >= 0 {
		e.cfg.BasePrecision = inst.BasePrecision
	}
	if inst.MinOrderQty > 0 {
		e.cfg.MinOrderQty = inst.MinOrderQty
	}
}

// RequestReconcile: следующий принятый тик начнётся с полной сверки с биржей.
// Только до старта потребителя или из него самого.
func (e *Engine) RequestReconcile() {
	e.state.NeedsReconcile = true
	e.publish()
}

// Snapshot: копия состояния для health, статистики и телеграма.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) publish() {
	e.mu.Lock()
	e.snap = Snapshot{State: e.state, Stats: e.stats}
	e.mu.Unlock()
}

// OnTick обрабатывает один тик до конца: продажи, уровни, покупка, телеметрия.
// Возвращает ошибку только при срабатывании kill-switch (ErrTradingHalted).
func (e *Engine) OnTick(ctx context.Context, tick models.Tick) error {
	if e.state.Halted {
		return models.ErrTradingHalted
	}
	defer e.publish()

	price := tick.Price
	if price <= 0 {
		return nil
	}
	e.stats.Ticks++
	e.state.LastPrice = price
	e.state.LastTickAt = tick.At
	metrics.TicksTotal.Inc()
	metrics.LastPrice.Set(price)

	if e.state.Reference <= 0 {
		e.setReference(price)
		return nil
	}
	if price == e.state.Reference {
		return nil
	}

	if e.state.NeedsReconcile {
		if _, err := e.ledger.Reconcile(ctx, ledger.SourceAuthoritative, 0); err != nil {
			logger.Warn("[ENGINE] отложенная сверка не удалась, повторим на следующем тике: %v", err)
		} else {
			e.state.NeedsReconcile = false
		}
	}

	prev := e.state.Reference

	sold, err := e.evaluateSells(ctx, price)
	if err != nil {
		return err
	}

	positions := e.ledger.Positions()
	lower := e.cfg.Grid.NextLowerBuyLevel(prev, positions)
	upper := e.cfg.Grid.NextUpperBuyLevel(prev, positions)

	bought, err := e.evaluateBuy(ctx, prev, price, lower, upper, positions)
	if err != nil {
		return err
	}

	e.telemetry(prev, price, lower, upper)

	if sold || bought {
		e.setReference(0)
	} else {
		e.setReference(price)
	}
	return nil
}

func (e *Engine) setReference(p float64) {
	e.state.Reference = p
	metrics.ReferencePrice.Set(p)
}

// ===== продажа =====

// errNothingToSell: баланс не покрывает лот, ордер не выставлялся.
var errNothingToSell = errors.New("нечего продавать")

// evaluateSells продаёт все лоты, достигшие цели. В счётчик kill-switch
// идёт не больше одной ошибки продажи за тик.
func (e *Engine) evaluateSells(ctx context.Context, price float64) (bool, error) {
	traded, failed := false, false
	for _, lot := range e.ledger.Positions() {
		target := lot.SellPrice(e.cfg.ProfitTarget)
		if price < target {
			continue
		}
		if _, ok := e.ledger.Get(lot.OrderID); !ok {
			continue // закрыт сверкой после предыдущей продажи
		}
		logger.Info("[ENGINE] цена %.2f достигла уровня продажи %.2f для лота %s (куплен по %.2f)",
			price, target, lot.OrderID, lot.Price)

		err := e.sellLot(ctx, lot)
		switch {
		case err == nil:
			e.resetFailures(models.SideSell)
			traded = true
		case errors.Is(err, errNothingToSell):
		case failed:
			e.stats.SellFailures++
			logger.Error("[ENGINE] продажа лота %s не удалась: %v", lot.OrderID, err)
		default:
			failed = true
			if halt := e.recordFailure(models.SideSell, err); halt != nil {
				return traded, halt
			}
		}
	}
	return traded, nil
}

func (e *Engine) sellLot(ctx context.Context, lot models.Position) error {
	prec := e.cfg.BasePrecision
	bal, err := e.wallet.WalletBalance(ctx, e.cfg.BaseCoin)
	if err != nil {
		return errors.Wrap(err, "баланс перед продажей")
	}

	qty := helper.FloorQty(lot.Qty, prec)
	avail := helper.FloorQty(bal.Qty, prec)
	if avail.LessThan(qty) {
		if !avail.IsPositive() || avail.LessThan(decimal.NewFromFloat(e.cfg.MinOrderQty)) {
			logger.Error("[ENGINE] %v: лот %s требует %s %s, на балансе %s, сверяем леджер с биржей",
				models.ErrLedgerInconsistency, lot.OrderID, qty, e.cfg.BaseCoin, avail)
			e.reconcileNow(ctx)
			return errNothingToSell
		}
		logger.Warn("[ENGINE] %v: лот %s требует %s %s, доступно %s, продаём доступное",
			models.ErrInsufficientBalance, lot.OrderID, qty, e.cfg.BaseCoin, avail)
		qty = avail
	}

	out, err := e.exec.Execute(ctx, models.SideSell, executor.SizeSpec{
		Amount:    qty.InexactFloat64(),
		Unit:      models.UnitBase,
		Precision: prec,
	}, models.SellLinkID(lot.OrderID))
	if err != nil {
		e.afterFailedOrder(out, err)
		return err
	}

	e.reconcileNow(ctx)
	if _, still := e.ledger.Get(lot.OrderID); still {
		logger.Error("[ENGINE] %v: лот %s остался в леджере после продажи, удаляем",
			models.ErrLedgerInconsistency, lot.OrderID)
		if _, err := e.ledger.Remove(ctx, lot.OrderID); err != nil {
			logger.Error("[ENGINE] не удалось сохранить леджер: %v", err)
		}
	}

	profit := decimal.NewFromFloat(out.AvgPrice).
		Sub(decimal.NewFromFloat(lot.Price)).
		Mul(decimal.NewFromFloat(lot.Qty)).
		InexactFloat64()
	held := out.ExecTime.Sub(lot.OpenedAt)

	e.stats.Sells++
	e.stats.RealizedProfit += profit
	metrics.RealizedProfit.Add(profit)

	logger.Trade("SELL", e.cfg.Symbol, out.AvgPrice, lot.Qty,
		zap.String("order_id", out.OrderID),
		zap.String("lot_id", lot.OrderID),
		zap.Float64("buy_price", lot.Price),
		zap.Float64("profit", profit),
	)

	msg := fmt.Sprintf("💰 Продано %s %s по цене %s %s на сумму %.2f %s, прибыль %.2f %s.",
		fmtNum(lot.Qty), e.cfg.BaseCoin, fmtNum(out.AvgPrice), e.cfg.QuoteCoin,
		lot.Qty*out.AvgPrice, e.cfg.QuoteCoin, profit, e.cfg.QuoteCoin)
	if !lot.OpenedAt.IsZero() {
		msg += fmt.Sprintf(" Лот открыт %s, закрыт %s, удерживался %s.",
			lot.OpenedAt.Format(time.DateTime), out.ExecTime.Format(time.DateTime), helper.HumanDuration(held))
	}
	logger.Info("[ENGINE] %s", msg)
	e.notify.Send(msg)
	return nil
}

// ===== покупка =====

func (e *Engine) evaluateBuy(ctx context.Context, prev, price, lower, upper float64, positions []models.Position) (bool, error) {
	var level float64
	var dir string
	switch {
	case prev > lower && price <= lower:
		level, dir = lower, "вниз"
	case prev < upper && price >= upper:
		level, dir = upper, "вверх"
	default:
		return false, nil
	}

	if e.cfg.Grid.Occupied(level, positions) {
		logger.Info("[ENGINE] уровень %.2f уже занят лотом, покупку пропускаем", level)
		return false, nil
	}
	logger.Info("[ENGINE] цена %.2f пересекла уровень %.2f (%s), покупаем на %s %s",
		price, level, dir, fmtNum(e.cfg.OrderSize), e.cfg.QuoteCoin)

	out, err := e.exec.Execute(ctx, models.SideBuy, executor.SizeSpec{
		Amount: e.cfg.OrderSize,
		Unit:   models.UnitQuote,
	}, "")
	if err != nil {
		e.afterFailedOrder(out, err)
		return false, e.recordFailure(models.SideBuy, err)
	}
	e.resetFailures(models.SideBuy)

	e.reconcileNow(ctx)
	lot, ok := e.ledger.Get(out.OrderID)
	if !ok {
		logger.Error("[ENGINE] %v: исполненная покупка %s не найдена в леджере",
			models.ErrLedgerInconsistency, out.OrderID)
		e.state.NeedsReconcile = true
		fee := out.Fees[strings.ToUpper(e.cfg.BaseCoin)]
		lot = models.Position{OrderID: out.OrderID, Price: out.AvgPrice, Qty: out.Qty - fee, Fee: fee}
	}

	e.stats.Buys++
	logger.Trade("BUY", e.cfg.Symbol, out.AvgPrice, lot.Qty,
		zap.String("order_id", out.OrderID),
		zap.Float64("level", level),
		zap.Float64("fee", lot.Fee),
	)

	msg := fmt.Sprintf("📥 Куплено %s %s по цене %s %s на сумму %.2f %s, включая комиссию %.2f %s.",
		fmtNum(lot.Qty), e.cfg.BaseCoin, fmtNum(out.AvgPrice), e.cfg.QuoteCoin,
		lot.Qty*out.AvgPrice, e.cfg.QuoteCoin, lot.Fee*out.AvgPrice, e.cfg.QuoteCoin)
	logger.Info("[ENGINE] %s", msg)
	e.notify.Send(msg)
	return true, nil
}

// ===== ошибки и kill-switch =====

// reconcileNow: сверка с биржей сразу, при ошибке откладывается на следующий тик.
func (e *Engine) reconcileNow(ctx context.Context) {
	if _, err := e.ledger.Reconcile(ctx, ledger.SourceAuthoritative, 0); err != nil {
		logger.Warn("[ENGINE] сверка не удалась, повторим на следующем тике: %v", err)
		e.state.NeedsReconcile = true
		return
	}
	e.state.NeedsReconcile = false
}

func (e *Engine) afterFailedOrder(out executor.Outcome, err error) {
	if errors.Is(err, models.ErrOrderUnconfirmed) {
		e.stats.Unconfirmed++
		e.state.NeedsReconcile = true
		logger.Warn("[ENGINE] ордер %s не подтверждён, леджер будет сверен с биржей на следующем тике", out.OrderID)
		return
	}
	if out.Qty > 0 {
		e.state.NeedsReconcile = true
		logger.Warn("[ENGINE] ордер %s отменён после частичного исполнения (%s)", out.OrderID, fmtNum(out.Qty))
	}
}

func (e *Engine) recordFailure(side models.Side, cause error) error {
	var n int
	if side == models.SideBuy {
		e.state.BuyFailures++
		e.stats.BuyFailures++
		n = e.state.BuyFailures
	} else {
		e.state.SellFailures++
		e.stats.SellFailures++
		n = e.state.SellFailures
	}
	metrics.ConsecutiveFailures.WithLabelValues(strings.ToLower(string(side))).Set(float64(n))
	logger.Error("[ENGINE] %s не удалась (%d/%d подряд): %v", side, n, e.cfg.MaxCriticalErrors, cause)

	if n < e.cfg.MaxCriticalErrors {
		return nil
	}

	e.state.Halted = true
	msg := fmt.Sprintf("🛑 Торговля остановлена: %d ошибок %s подряд. Последняя: %v", n, side, cause)
	logger.Error("[ENGINE] %s", msg)
	e.notify.Send(msg)
	return errors.Wrapf(models.ErrTradingHalted, "%d consecutive %s failures: %v", n, side, cause)
}

func (e *Engine) resetFailures(side models.Side) {
	if side == models.SideBuy {
		e.state.BuyFailures = 0
	} else {
		e.state.SellFailures = 0
	}
	metrics.ConsecutiveFailures.WithLabelValues(strings.ToLower(string(side))).Set(0)
}

// ===== телеметрия =====

func (e *Engine) telemetry(prev, price, lower, upper float64) {
	positions := e.ledger.Positions()
	metrics.OpenPositions.Set(float64(len(positions)))

	next := "нет"
	if len(positions) > 0 {
		best := positions[0].SellPrice(e.cfg.ProfitTarget)
		for _, p := range positions[1:] {
			best = min(best, p.SellPrice(e.cfg.ProfitTarget))
		}
		next = fmt.Sprintf("%.2f", best)
	}
	logger.Info("Прошлая цена: %.2f | Текущая: %.2f | Позиций: %d | Покупка снизу: %.2f | Покупка сверху: %.2f | Продажа: %s",
		prev, price, len(positions), lower, upper, next)
}

func fmtNum(v float64) string {
	return decimal.NewFromFloat(v).String()
}
