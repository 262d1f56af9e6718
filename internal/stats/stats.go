package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

type Lot struct {
	OrderID  string    `yaml:"order_id"`
	Price    float64   `yaml:"price"`
	Qty      float64   `yaml:"qty"`
	SellAt   float64   `yaml:"sell_at"`
	OpenedAt time.Time `yaml:"opened_at"`
}

// Snapshot: периодический срез статистики, пишется в STATS_FILE.
type Snapshot struct {
	GeneratedAt    time.Time `yaml:"generated_at"`
	Symbol         string    `yaml:"symbol"`
	Uptime         string    `yaml:"uptime"`
	Halted         bool      `yaml:"halted"`
	Ticks          int64     `yaml:"ticks"`
	Buys           int64     `yaml:"buys"`
	Sells          int64     `yaml:"sells"`
	Unconfirmed    int64     `yaml:"unconfirmed"`
	BuyFailures    int64     `yaml:"buy_failures"`
	SellFailures   int64     `yaml:"sell_failures"`
	RealizedProfit float64   `yaml:"realized_profit"`
	ReferencePrice float64   `yaml:"reference_price"`
	LastPrice      float64   `yaml:"last_price"`
	OpenPositions  int       `yaml:"open_positions"`
	ExposureBase   float64   `yaml:"exposure_base"`
	NextSell       float64   `yaml:"next_sell,omitempty"`
	Lots           []Lot     `yaml:"lots"`
}

func Build(symbol string, es engine.Snapshot, positions []models.Position, profitTarget float64, now time.Time) Snapshot {
	s := Snapshot{
		GeneratedAt:    now,
		Symbol:         symbol,
		Uptime:         now.Sub(es.Stats.StartedAt).Truncate(time.Second).String(),
		Halted:         es.State.Halted,
		Ticks:          es.Stats.Ticks,
		Buys:           es.Stats.Buys,
		Sells:          es.Stats.Sells,
		Unconfirmed:    es.Stats.Unconfirmed,
		BuyFailures:    es.Stats.BuyFailures,
		SellFailures:   es.Stats.SellFailures,
		RealizedProfit: es.Stats.RealizedProfit,
		ReferencePrice: es.State.Reference,
		LastPrice:      es.State.LastPrice,
		OpenPositions:  len(positions),
		Lots:           make([]Lot, 0, len(positions)),
	}
	for _, p := range positions {
		sellAt := p.SellPrice(profitTarget)
		s.ExposureBase += p.Qty
		if s.NextSell == 0 || sellAt < s.NextSell {
			s.NextSell = sellAt
		}
		s.Lots = append(s.Lots, Lot{OrderID: p.OrderID, Price: p.Price, Qty: p.Qty, SellAt: sellAt, OpenedAt: p.OpenedAt})
	}
	return s
}

// Summary: одна строка для операционного лога.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("[STATS] %s | тиков %d | покупок %d | продаж %d | прибыль %.2f | лотов %d | ошибок buy/sell %d/%d | uptime %s",
		s.Symbol, s.Ticks, s.Buys, s.Sells, s.RealizedProfit, s.OpenPositions, s.BuyFailures, s.SellFailures, s.Uptime)
}

type Writer struct {
	path string
}

func NewWriter(path string) *Writer { return &Writer{path: path} }

// Write перезаписывает файл атомарно. При пустом пути ничего не пишет.
func (w *Writer) Write(s Snapshot) error {
	if w == nil || w.path == "" {
		return nil
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}
