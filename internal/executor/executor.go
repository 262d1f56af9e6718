package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"grid_bot/internal/helper"
	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

// State: стадия жизни рыночного ордера.
type State string

const (
	StateSubmitted   State = "submitted"
	StatePolling     State = "polling"
	StateFilled      State = "filled"
	StateCancelled   State = "cancelled"
	StateRejected    State = "rejected"
	StateUnconfirmed State = "unconfirmed"
)

// Clock: сон между опросами. В тестах подменяется.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func RealClock() Clock { return realClock{} }

type Exchange interface {
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (string, error)
	OrderHistory(ctx context.Context, filter models.OrderFilter) ([]models.Trade, error)
}

// SizeSpec: размер рыночного ордера. UnitQuote: сумма в котируемой монете,
// UnitBase: количество базовой монеты, обрезается вниз до Precision знаков.
type SizeSpec struct {
	Amount    float64
	Unit      models.SizeUnit
	Precision int
}

func (s SizeSpec) format() string {
	if s.Unit == models.UnitBase {
		return helper.FormatQty(s.Amount, s.Precision)
	}
	return decimal.NewFromFloat(s.Amount).String()
}

type Handle struct {
	OrderID     string
	LinkID      string
	Side        models.Side
	Size        SizeSpec
	SubmittedAt time.Time
}

// Outcome: итог ордера. Qty может быть > 0 и у отменённого ордера
// (частичное исполнение), тогда леджер надо сверить.
type Outcome struct {
	OrderID  string
	State    State
	AvgPrice float64
	Qty      float64
	Fees     map[string]float64
	ExecTime time.Time
	Attempts int
}

type Config struct {
	Symbol      string
	MaxAttempts int           // по умолчанию 5
	Delay       time.Duration // по умолчанию 1s
}

type Executor struct {
	cfg   Config
	ex    Exchange
	clock Clock
	now   func() time.Time
}

func New(cfg Config, ex Exchange, clock Clock) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Executor{cfg: cfg, ex: ex, clock: clock, now: time.Now}
}

// WorstCaseLatency: сколько AwaitFill может блокировать при текущих настройках.
func (e *Executor) WorstCaseLatency() time.Duration {
	return time.Duration(e.cfg.MaxAttempts) * e.cfg.Delay
}

// NewBuyLinkID: orderLinkId покупки: "gb-" + uuid без дефисов.
func NewBuyLinkID() string {
	return "gb-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PlaceMarketOrder отправляет ордер. Пустой linkID генерируется.
// Ошибка отправки даёт ErrOrderRejected, без повторов.
func (e *Executor) PlaceMarketOrder(ctx context.Context, side models.Side, size SizeSpec, linkID string) (Handle, error) {
	if linkID == "" {
		linkID = NewBuyLinkID()
	}
	qty := size.format()
	if d, err := decimal.NewFromString(qty); err != nil || !d.IsPositive() {
		return Handle{}, errors.Wrapf(models.ErrOrderRejected, "%s: размер %q меньше точности инструмента", side, qty)
	}

	orderID, err := e.ex.PlaceMarketOrder(ctx, models.OrderRequest{
		Symbol: e.cfg.Symbol,
		Side:   side,
		Qty:    qty,
		Unit:   size.Unit,
		LinkID: linkID,
	})
	if err != nil {
		return Handle{}, errors.Wrapf(models.ErrOrderRejected, "%s %s %s: %v", side, qty, size.Unit, err)
	}

	logger.Info("[EXEC] ордер %s (%s %s %s) размещён, ждём исполнения", orderID, side, qty, size.Unit)
	return Handle{
		OrderID:     orderID,
		LinkID:      linkID,
		Side:        side,
		Size:        size,
		SubmittedAt: e.now(),
	}, nil
}

// AwaitFill опрашивает историю по id ордера: перед каждым опросом ждёт delay.
// Filled: успех. Cancelled/Rejected сразу дают ErrOrderRejected.
// Иначе после maxAttempts возвращается ErrOrderUnconfirmed.
func (e *Executor) AwaitFill(ctx context.Context, h Handle, maxAttempts int, delay time.Duration) (Outcome, error) {
	out := Outcome{OrderID: h.OrderID, State: StatePolling}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		if err := e.clock.Sleep(ctx, delay); err != nil {
			out.State = StateUnconfirmed
			return out, errors.Wrapf(models.ErrOrderUnconfirmed, "order %s: %v", h.OrderID, err)
		}

		trades, err := e.ex.OrderHistory(ctx, models.OrderFilter{Symbol: e.cfg.Symbol, OrderID: h.OrderID})
		if err != nil {
			logger.Warn("[EXEC] опрос %s (%d/%d): %v", h.OrderID, attempt, maxAttempts, err)
			continue
		}
		if len(trades) == 0 {
			continue
		}

		t := trades[0]
		switch t.Status {
		case models.OrderStatusFilled:
			out.State = StateFilled
			out.AvgPrice = t.AvgPrice
			out.Qty = t.ExecQty
			out.Fees = t.Fees
			out.ExecTime = t.UpdatedAt
			if out.ExecTime.IsZero() {
				out.ExecTime = e.now()
			}
			return out, nil

		case models.OrderStatusCancelled, models.OrderStatusPartiallyFilledCanceled:
			out.State = StateCancelled
			out.Qty = t.ExecQty
			return out, errors.Wrapf(models.ErrOrderRejected, "order %s: %s", h.OrderID, t.Status)

		case models.OrderStatusRejected:
			out.State = StateRejected
			return out, errors.Wrapf(models.ErrOrderRejected, "order %s: %s", h.OrderID, t.Status)
		}
	}

	out.State = StateUnconfirmed
	return out, errors.Wrapf(models.ErrOrderUnconfirmed, "order %s: нет Filled за %d попыток", h.OrderID, maxAttempts)
}

// Execute: PlaceMarketOrder + AwaitFill с настройками исполнителя.
func (e *Executor) Execute(ctx context.Context, side models.Side, size SizeSpec, linkID string) (out Outcome, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "executor.Execute")
	defer func() { finish(err) }()

	sideLabel := strings.ToLower(string(side))
	h, err := e.PlaceMarketOrder(ctx, side, size, linkID)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(sideLabel, "rejected").Inc()
		return Outcome{State: StateRejected}, err
	}

	out, err = e.AwaitFill(ctx, h, e.cfg.MaxAttempts, e.cfg.Delay)
	switch {
	case err == nil:
		metrics.OrdersTotal.WithLabelValues(sideLabel, "filled").Inc()
		metrics.OrderFillSeconds.WithLabelValues(sideLabel).Observe(e.now().Sub(h.SubmittedAt).Seconds())
	case errors.Is(err, models.ErrOrderUnconfirmed):
		metrics.OrdersTotal.WithLabelValues(sideLabel, "unconfirmed").Inc()
	default:
		metrics.OrdersTotal.WithLabelValues(sideLabel, "rejected").Inc()
	}
	return out, err
}
