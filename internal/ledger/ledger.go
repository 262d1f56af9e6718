package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

// Source: откуда брать позиции при сверке.
type Source int

const (
	// SourceCache: локальный снапшот, если он не пустой.
	SourceCache Source = iota
	// SourceAuthoritative: всегда пересобрать из истории ордеров и баланса биржи.
	SourceAuthoritative
)

func (s Source) String() string {
	if s == SourceCache {
		return "cache"
	}
	return "exchange"
}

// Exchange: то, что леджеру нужно от биржи.
type Exchange interface {
	WalletBalance(ctx context.Context, coin string) (models.Balance, error)
	OrderHistory(ctx context.Context, filter models.OrderFilter) ([]models.Trade, error)
}

// Store: долговременное хранилище снапшота леджера.
type Store interface {
	Load(ctx context.Context) ([]models.Position, error)
	Save(ctx context.Context, positions []models.Position) error
}

type Config struct {
	Symbol       string
	BaseCoin     string
	HistoryLimit int // сколько последних исполненных ордеров смотреть, по умолчанию 100
}

// Ledger: единственный владелец списка открытых лотов.
// Все чтения и записи идут под одним мьютексом.
type Ledger struct {
	cfg   Config
	ex    Exchange
	store Store

	mu        sync.Mutex
	positions []models.Position
}

func New(cfg Config, ex Exchange, store Store) *Ledger {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	return &Ledger{cfg: cfg, ex: ex, store: store}
}

// Reconcile приводит леджер к состоянию биржи.
//
// SourceCache отдаёт непустой снапшот как есть. Иначе позиции пересобираются:
// баланс базовой монеты (минус inFlight, количество ордера, который ещё
// не отразился в балансе) жадно раскладывается по исполненным покупкам от
// новых к старым, пока остаток не станет меньше очередной покупки. Покупки,
// закрытые продажей с нашим orderLinkId, пропускаются.
//
// При ошибке баланса или истории леджер в памяти не меняется.
func (l *Ledger) Reconcile(ctx context.Context, src Source, inFlight float64) (_ []models.Position, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "ledger.Reconcile")
	defer func() { finish(err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if src == SourceCache {
		snap, lerr := l.store.Load(ctx)
		switch {
		case lerr != nil:
			logger.Error("[LEDGER] не удалось прочитать снапшот: %v — восстанавливаем с биржи", lerr)
		case len(snap) > 0:
			models.SortByPriceDesc(snap)
			l.positions = snap
			logger.Info("[LEDGER] восстановлено %d позиций из снапшота", len(snap))
			return models.ClonePositions(l.positions), nil
		default:
			logger.Warn("[LEDGER] снапшот пуст — восстанавливаем с биржи")
		}
	}

	restored, err := l.rebuild(ctx, inFlight)
	if err != nil {
		logger.Error("[LEDGER] сверка с биржей не удалась: %v", err)
		return nil, err
	}

	l.positions = restored
	if serr := l.saveLocked(ctx); serr != nil {
		logger.Error("[LEDGER] не удалось сохранить снапшот: %v", serr)
	}
	logger.Info("[LEDGER] сверка (%s): %d позиций", src, len(restored))
	return models.ClonePositions(l.positions), nil
}

func (l *Ledger) rebuild(ctx context.Context, inFlight float64) ([]models.Position, error) {
	bal, err := l.ex.WalletBalance(ctx, l.cfg.BaseCoin)
	if err != nil {
		return nil, errors.Wrap(err, "wallet balance")
	}
	trades, err := l.ex.OrderHistory(ctx, models.OrderFilter{
		Symbol: l.cfg.Symbol,
		Status: models.OrderStatusFilled,
		Limit:  l.cfg.HistoryLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "order history")
	}

	closed := make(map[string]struct{})
	buys := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status != models.OrderStatusFilled {
			continue
		}
		switch t.Side {
		case models.SideSell:
			if lotID, ok := models.ClosedLotID(t.OrderLinkID); ok {
				closed[lotID] = struct{}{}
			}
		case models.SideBuy:
			buys = append(buys, t)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].CreatedAt.After(buys[j].CreatedAt) })

	remaining := decimal.NewFromFloat(bal.Qty).Sub(decimal.NewFromFloat(inFlight))
	restored := make([]models.Position, 0, len(buys))
	if remaining.IsPositive() {
		for _, b := range buys {
			if _, ok := closed[b.OrderID]; ok {
				continue
			}
			fee := decimal.NewFromFloat(b.FeeIn(l.cfg.BaseCoin))
			qty := decimal.NewFromFloat(b.ExecQty).Sub(fee)
			if !qty.IsPositive() || b.AvgPrice <= 0 {
				continue
			}
			if remaining.LessThan(qty) {
				break
			}
			restored = append(restored, models.Position{
				OrderID:  b.OrderID,
				OpenedAt: b.CreatedAt,
				Price:    b.AvgPrice,
				Qty:      qty.InexactFloat64(),
				Fee:      fee.InexactFloat64(),
			})
			remaining = remaining.Sub(qty)
		}
	}

	if len(restored) == 0 && bal.Qty > 0 && len(buys) > 0 {
		logger.Error("[LEDGER] %v: баланс %s %s, но ни одна покупка не сопоставлена",
			models.ErrLedgerInconsistency, decimal.NewFromFloat(bal.Qty).String(), l.cfg.BaseCoin)
	}

	models.SortByPriceDesc(restored)
	return restored, nil
}

// Save атомарно сохраняет текущий набор.
func (l *Ledger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked(ctx)
}

func (l *Ledger) saveLocked(ctx context.Context) error {
	models.SortByPriceDesc(l.positions)
	return l.store.Save(ctx, models.ClonePositions(l.positions))
}

// Positions: копия открытых лотов, от дорогих к дешёвым.
func (l *Ledger) Positions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.ClonePositions(l.positions)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

func (l *Ledger) Get(orderID string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.positions {
		if p.OrderID == orderID {
			return p, true
		}
	}
	return models.Position{}, false
}

// Remove убирает лот (после подтверждённой продажи) и сохраняет снапшот.
func (l *Ledger) Remove(ctx context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, p := range l.positions {
		if p.OrderID != orderID {
			continue
		}
		l.positions = append(l.positions[:i], l.positions[i+1:]...)
		return true, l.saveLocked(ctx)
	}
	return false, nil
}
