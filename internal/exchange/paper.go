package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"grid_bot/internal/models"
)

// TickerFeed: источник цен для бумажной торговли.
type TickerFeed interface {
	StreamTickers(ctx context.Context, symbol string) <-chan models.Tick
}

type PaperConfig struct {
	Symbol        string
	BaseCoin      string
	QuoteCoin     string
	BasePrecision int     // по умолчанию 6
	QuoteBalance  float64 // стартовый баланс в котируемой монете
	FeeRate       float64 // доля; на покупке в базовой монете, на продаже в котируемой
}

// Paper: биржа в памяти. Рыночные ордера исполняются по последней цене.
type Paper struct {
	mu       sync.Mutex
	cfg      PaperConfig
	feed     TickerFeed
	price    float64
	balances map[string]decimal.Decimal
	history  []models.Trade
	seq      int64
	now      func() time.Time
	lastTime time.Time

	holdStatus models.OrderStatus
	balanceErr error
	historyErr error
	placeErr   error
}

func NewPaper(cfg PaperConfig, feed TickerFeed) *Paper {
	if cfg.BasePrecision <= 0 {
		cfg.BasePrecision = 6
	}
	cfg.BaseCoin = strings.ToUpper(cfg.BaseCoin)
	cfg.QuoteCoin = strings.ToUpper(cfg.QuoteCoin)
	p := &Paper{
		cfg:      cfg,
		feed:     feed,
		balances: make(map[string]decimal.Decimal),
		now:      time.Now,
	}
	p.balances[cfg.QuoteCoin] = decimal.NewFromFloat(cfg.QuoteBalance)
	return p
}

// ===== ручки для тестов и прогрева =====

func (p *Paper) SetPrice(price float64) {
	p.mu.Lock()
	p.price = price
	p.mu.Unlock()
}

func (p *Paper) SetBalance(coin string, qty float64) {
	p.mu.Lock()
	p.balances[strings.ToUpper(coin)] = decimal.NewFromFloat(qty)
	p.mu.Unlock()
}

func (p *Paper) Balance(coin string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[strings.ToUpper(coin)].InexactFloat64()
}

func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Seed добавляет готовые записи в историю (баланс не трогает).
func (p *Paper) Seed(trades ...models.Trade) {
	p.mu.Lock()
	p.history = append(p.history, trades...)
	p.mu.Unlock()
}

// HoldStatus: новые ордера остаются в этом статусе и не исполняются.
// Пустой статус возвращает обычное поведение.
func (p *Paper) HoldStatus(s models.OrderStatus) {
	p.mu.Lock()
	p.holdStatus = s
	p.mu.Unlock()
}

// FailWith задаёт ошибки для WalletBalance, OrderHistory и PlaceMarketOrder. nil: без ошибки.
func (p *Paper) FailWith(balance, history, place error) {
	p.mu.Lock()
	p.balanceErr, p.historyErr, p.placeErr = balance, history, place
	p.mu.Unlock()
}

// ===== Exchange =====

func (p *Paper) InstrumentPrecision(_ context.Context, symbol string) (models.Instrument, error) {
	if symbol != p.cfg.Symbol {
		return models.Instrument{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return models.Instrument{
		Symbol:         p.cfg.Symbol,
		BaseCoin:       p.cfg.BaseCoin,
		QuoteCoin:      p.cfg.QuoteCoin,
		BasePrecision:  p.cfg.BasePrecision,
		QuotePrecision: 2,
	}, nil
}

func (p *Paper) WalletBalance(_ context.Context, coin string) (models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balanceErr != nil {
		return models.Balance{}, p.balanceErr
	}
	coin = strings.ToUpper(coin)
	qty := p.balances[coin]
	usd := qty
	if coin == p.cfg.BaseCoin {
		usd = qty.Mul(decimal.NewFromFloat(p.price))
	}
	equity := p.balances[p.cfg.QuoteCoin].Add(p.balances[p.cfg.BaseCoin].Mul(decimal.NewFromFloat(p.price)))
	return models.Balance{
		Coin:     coin,
		Qty:      qty.InexactFloat64(),
		USDValue: usd.InexactFloat64(),
		Equity:   equity.InexactFloat64(),
	}, nil
}

func (p *Paper) OrderHistory(_ context.Context, f models.OrderFilter) ([]models.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.historyErr != nil {
		return nil, p.historyErr
	}

	out := make([]models.Trade, 0, len(p.history))
	for _, t := range p.history {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.OrderID != "" && t.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (p *Paper) PlaceMarketOrder(_ context.Context, req models.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.placeErr != nil {
		return "", p.placeErr
	}
	if req.Symbol != p.cfg.Symbol {
		return "", fmt.Errorf("unknown symbol %s", req.Symbol)
	}
	if p.price <= 0 {
		return "", errors.New("paper: no price yet")
	}
	size, err := decimal.NewFromString(req.Qty)
	if err != nil || !size.IsPositive() {
		return "", fmt.Errorf("paper: bad qty %q", req.Qty)
	}

	price := decimal.NewFromFloat(p.price)
	rate := decimal.NewFromFloat(p.cfg.FeeRate)
	prec := int32(p.cfg.BasePrecision)

	p.seq++
	createdAt := p.now()
	if !createdAt.After(p.lastTime) {
		createdAt = p.lastTime.Add(time.Millisecond)
	}
	p.lastTime = createdAt

	t := models.Trade{
		OrderID:     "paper-" + strconv.FormatInt(p.seq, 10),
		OrderLinkID: req.LinkID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      models.OrderStatusFilled,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if p.holdStatus != "" {
		t.Status = p.holdStatus
		p.history = append(p.history, t)
		return t.OrderID, nil
	}

	base, quote := p.cfg.BaseCoin, p.cfg.QuoteCoin
	switch req.Side {
	case models.SideBuy:
		gross := size
		spend := size.Mul(price)
		if req.Unit != models.UnitBase {
			spend = size
			gross = size.Div(price).Truncate(prec)
		}
		if spend.GreaterThan(p.balances[quote]) {
			return "", errors.Wrapf(models.ErrInsufficientBalance, "paper: need %s %s", spend, quote)
		}
		fee := gross.Mul(rate).Truncate(prec + 2)
		p.balances[quote] = p.balances[quote].Sub(spend)
		p.balances[base] = p.balances[base].Add(gross).Sub(fee)
		t.ExecQty = gross.InexactFloat64()
		t.ExecValue = spend.InexactFloat64()
		t.Fees = map[string]float64{base: fee.InexactFloat64()}

	case models.SideSell:
		if size.GreaterThan(p.balances[base]) {
			return "", errors.Wrapf(models.ErrInsufficientBalance, "paper: need %s %s", size, base)
		}
		proceeds := size.Mul(price)
		fee := proceeds.Mul(rate).Truncate(8)
		p.balances[base] = p.balances[base].Sub(size)
		p.balances[quote] = p.balances[quote].Add(proceeds).Sub(fee)
		t.ExecQty = size.InexactFloat64()
		t.ExecValue = proceeds.InexactFloat64()
		t.Fees = map[string]float64{quote: fee.InexactFloat64()}

	default:
		return "", fmt.Errorf("paper: unknown side %q", req.Side)
	}

	t.AvgPrice = p.price
	p.history = append(p.history, t)
	return t.OrderID, nil
}

func (p *Paper) TickerPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if symbol != p.cfg.Symbol || p.price <= 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return p.price, nil
}

// StreamTickers пробрасывает цены из feed и запоминает последнюю для исполнения.
func (p *Paper) StreamTickers(ctx context.Context, symbol string) <-chan models.Tick {
	out := make(chan models.Tick)
	if p.feed == nil {
		close(out)
		return out
	}
	in := p.feed.StreamTickers(ctx, symbol)
	go func() {
		defer close(out)
		for tick := range in {
			p.SetPrice(tick.Price)
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
