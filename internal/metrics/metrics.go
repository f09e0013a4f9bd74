// Package metrics exposes order and trade counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xtrntr/marketplace/internal/models"
)

const namespace = "marketplace"

// Metrics records order flow on its own registry. It satisfies
// exchange.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersCancelled prometheus.Counter
	trades          *prometheus.CounterVec
	tradePrice      prometheus.Histogram
}

// New creates the collectors and registers them together with the Go
// runtime collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the router, by side and kind",
		}, []string{"side", "kind"}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Open orders cancelled",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades, by item",
		}, []string{"item"}),
		tradePrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_price",
			Help:      "Execution prices",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.ordersSubmitted,
		m.ordersCancelled,
		m.trades,
		m.tradePrice,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) OrderSubmitted(order *models.Order) {
	m.ordersSubmitted.WithLabelValues(string(order.Side), string(order.Kind)).Inc()
}

func (m *Metrics) OrderCancelled(orderID int64) {
	m.ordersCancelled.Inc()
}

func (m *Metrics) TradeExecuted(trade models.Trade) {
	m.trades.WithLabelValues(strconv.FormatInt(trade.ItemID, 10)).Inc()
	m.tradePrice.Observe(trade.Price)
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
