package exchange

import (
	"context"

	"grid_bot/internal/models"
)

// Exchange: спотовая биржа, как её видит бот.
type Exchange interface {
	InstrumentPrecision(ctx context.Context, symbol string) (models.Instrument, error)
	WalletBalance(ctx context.Context, coin string) (models.Balance, error)
	OrderHistory(ctx context.Context, filter models.OrderFilter) ([]models.Trade, error)
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (string, error)
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	StreamTickers(ctx context.Context, symbol string) <-chan models.Tick
}

// ConnHook получает состояние WebSocket-соединения (для health).
type ConnHook func(connected bool)
