// Package metrics: prometheus-метрики бота, отдаются на /metrics health-сервера.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridbot_ticks_total",
			Help: "Ticks processed by the engine",
		},
	)

	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_ticks_dropped_total",
			Help: "Ticks dropped by the ingestion queue",
		},
		[]string{"policy"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_queue_depth",
			Help: "Ticks waiting in the ingestion queue",
		},
	)

	// outcome: filled|rejected|unconfirmed
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_orders_total",
			Help: "Market orders by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	OrderFillSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridbot_order_fill_seconds",
			Help:    "Time from submission to confirmed fill",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 7.5, 10},
		},
		[]string{"side"},
	)

	RealizedProfit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_realized_profit_quote",
			Help: "Realized profit in quote coin since start",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_open_positions",
			Help: "Open lots in the ledger",
		},
	)

	ReferencePrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_reference_price",
			Help: "Reference price, 0 when unknown",
		},
	)

	LastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridbot_last_price",
			Help: "Last processed tick price",
		},
	)

	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_consecutive_failures",
			Help: "Consecutive failed order attempts per direction",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TicksDropped,
		QueueDepth,
		OrdersTotal,
		OrderFillSeconds,
		RealizedProfit,
		OpenPositions,
		ReferencePrice,
		LastPrice,
		ConsecutiveFailures,
	)
}
