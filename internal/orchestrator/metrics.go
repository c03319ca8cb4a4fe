package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	metricHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "hits_total",
		Help:      "Acquire calls satisfied from the residency table",
	})

	metricMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "misses_total",
		Help:      "Acquire calls that required a backend load",
	})

	metricEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "evictions_total",
		Help:      "Models evicted to make room",
	})

	metricLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "loads_total",
		Help:      "Completed backend loads",
	})

	metricLoadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "load_failures_total",
		Help:      "Backend loads that failed after exhausting retries",
	})

	metricLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "load_duration_seconds",
		Help:      "Duration of backend loads in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	metricUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "used_bytes",
		Help:      "Accelerator memory reserved by resident models",
	})

	metricTotalBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "total_bytes",
		Help:      "Accelerator memory budget",
	})

	metricResidentModels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "resident_models",
		Help:      "Number of models in the residency table",
	})

	metricLoadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "modelpool",
		Subsystem: "residency",
		Name:      "loads_in_flight",
		Help:      "Backend loads currently in flight",
	})
)

func init() {
	prometheus.MustRegister(
		metricHits, metricMisses, metricEvictions,
		metricLoads, metricLoadFailures, metricLoadDuration,
		metricUsedBytes, metricTotalBytes, metricResidentModels, metricLoadsInFlight,
	)
}
