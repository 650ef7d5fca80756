// Package metrics exposes Prometheus counters, gauges, and a histogram
// for the exchange core (SPEC_FULL.md §3: "Metrics"), grounded on
// chidi150c-coinbase/metrics.go's prometheus.NewCounterVec/NewGauge +
// init()-registration idiom.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxex_orders_total",
			Help: "Orders processed, by symbol, side, and terminal status.",
		},
		[]string{"symbol", "side", "status"},
	)

	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxex_trades_total",
			Help: "Trades executed, by symbol.",
		},
		[]string{"symbol"},
	)

	LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxex_liquidations_total",
			Help: "Forced position closures, by symbol and trigger reason.",
		},
		[]string{"symbol", "reason"},
	)

	MarginCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nyxex_margin_calls_total",
			Help: "Early margin-call warnings emitted, by symbol.",
		},
		[]string{"symbol"},
	)

	InsuranceFundQuote = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nyxex_insurance_fund_quote",
			Help: "Current insurance fund balance in quote asset units.",
		},
	)

	BestBid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nyxex_best_bid",
			Help: "Current best bid price, by symbol.",
		},
		[]string{"symbol"},
	)

	BestAsk = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nyxex_best_ask",
			Help: "Current best ask price, by symbol.",
		},
		[]string{"symbol"},
	)

	MatchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nyxex_match_latency_seconds",
			Help:    "Wall-clock time spent inside one submit-to-outcome matching pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal,
		TradesTotal,
		LiquidationsTotal,
		MarginCallsTotal,
		InsuranceFundQuote,
		BestBid,
		BestAsk,
		MatchLatencySeconds,
	)
}
