// Package metrics declares the Prometheus series exported by the cache
// engine and the scraper daemons that feed it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScrapeCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btncache",
		Name:      "scrape_cycles_total",
		Help:      "Total scraper step() invocations by scraper and outcome.",
	}, []string{"scraper", "result"})

	LimiterWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btncache",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent blocked in a rate limiter's acquire call.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"limiter"})

	DeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btncache",
		Name:      "deletions_total",
		Help:      "Total torrent entries newly marked deleted, by the scraper that inferred them.",
	}, []string{"scraper"})

	DaemonBackoffSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "btncache",
		Name:      "daemon_backoff_seconds",
		Help:      "Most recent backoff duration applied to a daemon, in seconds.",
	}, []string{"daemon"})

	RPCCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "btncache",
		Name:      "rpc_calls_total",
		Help:      "Total JSON-RPC calls issued to the tracker API, by method and outcome.",
	}, []string{"method", "outcome"})

	WriterTxDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btncache",
		Name:      "writer_tx_duration_seconds",
		Help:      "Duration of a writer transaction (an update operator's Apply), by database.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"database"})

	AdminHTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "btncache",
		Name:      "admin_http_request_duration_seconds",
		Help:      "Duration of a request served by the admin HTTP surface, by path and status class.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	}, []string{"path", "status"})
)

// Register registers every series declared in this package against reg.
// Calling it twice with the same registerer panics, matching
// prometheus.Registerer's own contract.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ScrapeCyclesTotal,
		LimiterWaitSeconds,
		DeletionsTotal,
		DaemonBackoffSeconds,
		RPCCallsTotal,
		WriterTxDuration,
		AdminHTTPRequestDuration,
	)
}
