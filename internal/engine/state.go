package engine

import "time"

// State: изменяемое состояние движка. Меняется только потребителем очереди.
type State struct {
	Reference      float64 // 0: неизвестна, следующий тик её задаст
	NeedsReconcile bool    // был неподтверждённый ордер, леджер надо сверить с биржей
	Halted         bool
	BuyFailures    int // подряд
	SellFailures   int // подряд
	LastPrice      float64
	LastTickAt     time.Time
}

// Stats: счётчики с момента старта.
type Stats struct {
	StartedAt      time.Time
	Ticks          int64
	Buys           int64
	Sells          int64
	Unconfirmed    int64
	BuyFailures    int64
	SellFailures   int64
	RealizedProfit float64
}

type Snapshot struct {
	State State
	Stats Stats
}
