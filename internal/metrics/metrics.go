package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sigworker_cycles_total", Help: "Completed worker cycles"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sigworker_cycle_duration_seconds",
			Help:    "Wall time of one cycle across all symbols",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigworker_outcomes_total", Help: "Per-symbol cycle outcomes by status"},
		[]string{"status"},
	)
	VetoesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigworker_vetoes_total", Help: "Risk gate vetoes by reason"},
		[]string{"reason"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sigworker_open_positions", Help: "Reserved position slots"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sigworker_orders_total", Help: "Orders submitted to the broker"},
		[]string{"symbol", "side"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleDuration, OutcomesTotal, VetoesTotal, OpenPositions, OrdersTotal)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
