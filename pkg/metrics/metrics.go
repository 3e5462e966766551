package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodefleet_ticks_total",
			Help: "Total number of reconciliation ticks by outcome",
		},
		[]string{"outcome"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nodefleet_tick_duration_seconds",
			Help:    "Reconciliation tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodefleet_lock_contention_total",
			Help: "Total number of ticks skipped because another reconciler held the lock",
		},
	)

	// Scaling metrics
	ScaleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodefleet_scale_actions_total",
			Help: "Total number of scale actions by direction and result",
		},
		[]string{"direction", "result"},
	)

	DesiredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodefleet_desired_workers",
			Help: "Desired worker count after the last reconciliation",
		},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodefleet_workers_total",
			Help: "Observed worker count by zone and market",
		},
		[]string{"zone", "market"},
	)

	// Failure metrics
	LaunchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodefleet_launch_failures_total",
			Help: "Total number of failed worker launches by cause",
		},
		[]string{"cause"},
	)

	DrainFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodefleet_drain_failures_total",
			Help: "Total number of aborted drains by cause",
		},
		[]string{"cause"},
	)

	MetricsFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nodefleet_metrics_fallbacks_total",
			Help: "Total number of ticks served from the cached metric sample",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(LockContention)
	prometheus.MustRegister(ScaleActionsTotal)
	prometheus.MustRegister(DesiredWorkers)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(LaunchFailuresTotal)
	prometheus.MustRegister(DrainFailuresTotal)
	prometheus.MustRegister(MetricsFallbacksTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
