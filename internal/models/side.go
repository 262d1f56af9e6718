package models

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// GridType: способ расстановки уровней покупки.
type GridType string

const (
	GridLinear    GridType = "LINEAR"
	GridFibonacci GridType = "FIBO"
)

func ParseGridType(raw string) (GridType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "LINEAR":
		return GridLinear, nil
	case "FIBO", "FIBONACCI":
		return GridFibonacci, nil
	}
	return "", fmt.Errorf("unknown grid type %q (LINEAR|FIBO)", raw)
}

// Tick: одно обновление цены из стрима тикеров.
type Tick struct {
	Symbol string
	Price  float64
	At     time.Time
}
