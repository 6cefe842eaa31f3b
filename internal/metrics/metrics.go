// Package metrics instruments the poller itself with Prometheus metrics:
// cycle cadence, per-resource fetch outcomes, backoff pressure and observed
// queue depths. These describe the monitor, not the monitored system.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepulse_cycles_total",
		Help: "Completed polling cycles",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queuepulse_cycle_duration_seconds",
		Help:    "Wall time spent per polling cycle",
		Buckets: prometheus.DefBuckets,
	})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queuepulse_fetches_total",
		Help: "Provider fetches by resource kind and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queuepulse_fetch_duration_seconds",
		Help:    "Provider fetch latency by resource kind",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"kind"})

	backoffsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queuepulse_backoffs_active",
		Help: "Resources currently held in rate-limit backoff",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queuepulse_queue_depth",
		Help: "Approximate visible messages per monitored queue",
	}, []string{"queue", "kind"})

	functionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queuepulse_functions_active",
		Help: "Functions inferred active in the latest cycle",
	})
)

// RecordCycle accounts one completed cycle.
func RecordCycle(d time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordFetch accounts one settled provider fetch.
func RecordFetch(kind string, d time.Duration, outcome string) {
	fetchesTotal.WithLabelValues(kind, outcome).Inc()
	fetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetBackoffsActive publishes how many resources are skipping ticks.
func SetBackoffsActive(n int) { backoffsActive.Set(float64(n)) }

// SetQueueDepth publishes a queue's latest observed depth.
func SetQueueDepth(queue, kind string, depth int) {
	queueDepth.WithLabelValues(queue, kind).Set(float64(depth))
}

// SetFunctionsActive publishes the number of active functions this cycle.
func SetFunctionsActive(n int) { functionsActive.Set(float64(n)) }
