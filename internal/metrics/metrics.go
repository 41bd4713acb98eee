// Package metrics holds the Prometheus collectors of the bot. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spotbot_polls_total", Help: "Live poll cycles by result"},
		[]string{"symbol", "result"},
	)
	BarsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spotbot_bars_completed_total", Help: "Bars frozen by the candle store"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spotbot_signals_total", Help: "Signals computed by target"},
		[]string{"symbol", "target"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spotbot_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side", "result"},
	)
	Position = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "spotbot_position", Help: "Held position (-1 short, 0 flat, 1 long)"},
		[]string{"symbol"},
	)
	CumulativeProfit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "spotbot_cumulative_profit", Help: "Cumulative realized profit in quote currency"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(PollsTotal, BarsCompleted, SignalsTotal, OrdersTotal, Position, CumulativeProfit)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
