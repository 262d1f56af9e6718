package models

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusNew                     OrderStatus = "New"
	OrderStatusPartiallyFilled         OrderStatus = "PartiallyFilled"
	OrderStatusFilled                  OrderStatus = "Filled"
	OrderStatusCancelled               OrderStatus = "Cancelled"
	OrderStatusRejected                OrderStatus = "Rejected"
	OrderStatusPartiallyFilledCanceled OrderStatus = "PartiallyFilledCanceled"
)

// SizeUnit: в чём указан размер рыночного ордера на споте.
type SizeUnit string

const (
	UnitQuote SizeUnit = "quoteCoin"
	UnitBase  SizeUnit = "baseCoin"
)

// Instrument: параметры спотового инструмента.
type Instrument struct {
	Symbol         string
	BaseCoin       string
	QuoteCoin      string
	BasePrecision  int // знаков после запятой для qty в базовой монете
	QuotePrecision int
	MinOrderQty    float64
	MinOrderAmt    float64
}

// Balance: баланс монеты на UNIFIED аккаунте.
type Balance struct {
	Coin     string
	Qty      float64
	USDValue float64
	Equity   float64 // totalEquity аккаунта, USD
}

// Trade: запись истории ордеров биржи.
type Trade struct {
	OrderID     string
	OrderLinkID string
	Symbol      string
	Side        Side
	Status      OrderStatus
	AvgPrice    float64
	ExecQty     float64
	ExecValue   float64
	Fees        map[string]float64 // coin -> fee
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeeIn: комиссия, списанная в указанной монете.
func (t Trade) FeeIn(coin string) float64 {
	if t.Fees == nil {
		return 0
	}
	return t.Fees[strings.ToUpper(coin)]
}

// OrderFilter: запрос к истории ордеров.
type OrderFilter struct {
	Symbol  string
	OrderID string
	Status  OrderStatus
	Limit   int
}

// OrderRequest: рыночный ордер. Qty уже отформатирован под точность инструмента.
type OrderRequest struct {
	Symbol string
	Side   Side
	Qty    string
	Unit   SizeUnit
	LinkID string
}

const sellLinkPrefix = "gs-"

// SellLinkID связывает ордер продажи с лотом, который он закрывает.
func SellLinkID(lotOrderID string) string { return sellLinkPrefix + lotOrderID }

// ClosedLotID достаёт id закрытого лота из orderLinkId продажи.
func ClosedLotID(linkID string) (string, bool) {
	if !strings.HasPrefix(linkID, sellLinkPrefix) || len(linkID) == len(sellLinkPrefix) {
		return "", false
	}
	return linkID[len(sellLinkPrefix):], true
}
