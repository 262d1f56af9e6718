package models

import (
	"sort"
	"time"
)

// Position: одна исполненная покупка, которая ещё не продана (лот).
type Position struct {
	OrderID  string    `json:"order_id"`
	OpenedAt time.Time `json:"opened_at"`
	Price    float64   `json:"price"`
	Qty      float64   `json:"qty"` // базовая монета за вычетом комиссии
	Fee      float64   `json:"fee"` // комиссия в базовой монете
}

// Valid: qty > 0, price > 0, есть id ордера.
func (p Position) Valid() bool {
	return p.OrderID != "" && p.Qty > 0 && p.Price > 0
}

// SellPrice: цена, при которой лот продаётся.
func (p Position) SellPrice(profitTarget float64) float64 {
	return p.Price + profitTarget
}

// SortByPriceDesc сортирует лоты от дорогих к дешёвым (порядок снапшота).
func SortByPriceDesc(ps []Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Price == ps[j].Price {
			return ps[i].OpenedAt.After(ps[j].OpenedAt)
		}
		return ps[i].Price > ps[j].Price
	})
}

// NormalizePositions: только валидные лоты, по одному на OrderID (первый
// встреченный), в порядке снапшота. Вход не меняется.
func NormalizePositions(in []Position) []Position {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]Position, 0, len(in))
	for _, p := range in {
		if !p.Valid() {
			continue
		}
		if _, dup := seen[p.OrderID]; dup {
			continue
		}
		seen[p.OrderID] = struct{}{}
		out = append(out, p)
	}
	SortByPriceDesc(out)
	return out
}

// ClonePositions возвращает копию, чтобы никто снаружи не мутировал слайс леджера.
func ClonePositions(in []Position) []Position {
	if in == nil {
		return nil
	}
	out := make([]Position, len(in))
	copy(out, in)
	return out
}
