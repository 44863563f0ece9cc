// Package metrics exposes THE CORE's operational counters and
// histograms over Prometheus's text exposition format.
//
// Grounded on DimaJoyti-ai-agentic-crypto-browser, VictorVVedtion-perp-dex,
// and abdoElHodaky-tradSys, all of which instrument their trading path
// with prometheus/client_golang counters/histograms registered against
// a package-level registry and served over an HTTP handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesExecuted counts every fill, labeled by instrument.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fenrir_trades_executed_total",
		Help: "Total number of trades executed.",
	}, []string{"instrument"})

	// OrdersRejected counts every rejection, labeled by the structured
	// ErrorKind that caused it.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fenrir_orders_rejected_total",
		Help: "Total number of order rejections, labeled by reject kind.",
	}, []string{"kind"})

	// ExecutorQueueDepth tracks how many commands are waiting in an
	// instrument's executor channel.
	ExecutorQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fenrir_executor_queue_depth",
		Help: "Number of commands currently queued per instrument executor.",
	}, []string{"instrument"})

	// CommitLatency measures how long a persistence commit took.
	CommitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fenrir_persistence_commit_seconds",
		Help:    "Latency of OrderWriteSet commits.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
