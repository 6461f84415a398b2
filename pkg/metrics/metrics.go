package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics (agent)
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_workers_total",
			Help: "Total number of workers by category",
		},
		[]string{"category"},
	)

	DesiredReplicas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_desired_replicas",
			Help: "Current value of the desired-replica register",
		},
	)

	ScaleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_scale_actions_total",
			Help: "Total number of scale actions by direction",
		},
		[]string{"direction"}, // "up" or "down"
	)

	WorkerScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ballast_worker_score",
			Help: "Current composite score of a worker",
		},
		[]string{"dns_name"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ContainersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_containers_created_total",
			Help: "Total number of worker containers created",
		},
	)

	ContainersCreateFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_containers_create_failed_total",
			Help: "Total number of failed worker container creations",
		},
	)

	ProbeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_probe_failures_total",
			Help: "Total number of failed TCP availability probes",
		},
	)

	// Balancer metrics
	ForwardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballast_forward_requests_total",
			Help: "Total number of forwarded requests by outcome",
		},
		[]string{"outcome"}, // "success", "timeout", "unavailable", "no_backend"
	)

	ForwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ballast_forward_duration_seconds",
			Help:    "Time taken to forward a request to a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_cache_size",
			Help: "Current number of entries in the response cache",
		},
	)

	AdmissionInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_admission_in_flight",
			Help: "Current number of requests holding an admission slot",
		},
	)

	// State-sync channel metrics (shared)
	SubscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ballast_statesync_subscribers_connected",
			Help: "Current number of connected state-sync subscribers (agent side)",
		},
	)

	SnapshotsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_statesync_snapshots_published_total",
			Help: "Total number of fleet snapshots pushed to subscribers",
		},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ballast_statesync_reconnects_total",
			Help: "Total number of state-sync reconnect attempts (balancer side)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		DesiredReplicas,
		ScaleActionsTotal,
		WorkerScore,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ContainersCreated,
		ContainersCreateFailed,
		ProbeFailures,
		ForwardRequestsTotal,
		ForwardDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheSize,
		AdmissionInFlight,
		SubscribersConnected,
		SnapshotsPublished,
		ReconnectsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
