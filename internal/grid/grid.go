package grid

import (
	"math"

	"grid_bot/internal/models"
)

// FiboNumbers: последовательность для разрежения сетки.
var FiboNumbers = []int{1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// Params: геометрия сетки.
type Params struct {
	Step   float64
	Offset float64
	Type   models.GridType
}

// Level: ближайший уровень сетки не выше price: floor((R-O)/S)*S + O.
func (p Params) Level(price float64) float64 {
	return math.Floor((price-p.Offset)/p.Step)*p.Step + p.Offset
}

// Anchor: уровень корзины, в которую попадает цена: floor(P/S)*S + O.
// Лот, купленный чуть ниже уровня L, якорится обратно на L.
func (p Params) Anchor(price float64) float64 {
	return math.Floor(price/p.Step)*p.Step + p.Offset
}

// Same: два уровня совпадают, если разница меньше половины шага.
func (p Params) Same(a, b float64) bool {
	return math.Abs(a-b) < p.Step/2
}

// Occupied: есть ли открытый лот на уровне level.
func (p Params) Occupied(level float64, positions []models.Position) bool {
	for _, pos := range positions {
		if p.Same(level, pos.Price) {
			return true
		}
	}
	return false
}

// FiboGap: множитель шага для n открытых позиций (F − prev), минимум 1.
func FiboGap(n int) int {
	prev := 0
	for _, f := range FiboNumbers {
		if n < f {
			if d := f - prev; d > 1 {
				return d
			}
			return 1
		}
		prev = f
	}
	return 1
}

// NextLowerBuyLevel: следующий уровень покупки ниже referencePrice.
//
// Для FIBO уровень считается от якоря самого дешёвого лота и может оказаться
// выше referencePrice при резком падении цены под сетку.
func (p Params) NextLowerBuyLevel(referencePrice float64, positions []models.Position) float64 {
	level := p.Level(referencePrice)
	if len(positions) == 0 {
		return level
	}

	if p.Occupied(level, positions) {
		level -= p.Step
	}

	if p.Type != models.GridFibonacci {
		return level
	}

	if gap := FiboGap(len(positions)); gap > 1 {
		lowest := positions[0]
		for _, pos := range positions[1:] {
			if pos.Price < lowest.Price {
				lowest = pos
			}
		}
		level = p.Anchor(lowest.Price) - p.Step*float64(gap)
	}
	return level
}

// NextUpperBuyLevel: шаг выше якоря самого дорогого лота (или referencePrice).
func (p Params) NextUpperBuyLevel(referencePrice float64, positions []models.Position) float64 {
	price := referencePrice
	for i, pos := range positions {
		if i == 0 || pos.Price > price {
			price = pos.Price
		}
	}
	return p.Anchor(price) + p.Step
}
