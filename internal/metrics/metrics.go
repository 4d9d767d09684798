// Package metrics registers prometheus instrumentation for every pipeline stage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Count of trades ingested"},
		[]string{"symbol"},
	)
	TradesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_rejected_total", Help: "Trades dropped by data-quality validation"},
		[]string{"symbol", "reason"},
	)
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_total", Help: "Micro-bars closed"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Strategy signals emitted"},
		[]string{"symbol", "action"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Simulated fills"},
		[]string{"symbol", "side"},
	)
	EntriesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "entries_rejected_total", Help: "Entry signals suppressed by the simulator"},
		[]string{"symbol", "reason"},
	)
	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "equity", Help: "Marked-to-market equity per symbol pipeline"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(TradesTotal, TradesRejected, BarsTotal, SignalsTotal, FillsTotal, EntriesRejected, Equity)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
