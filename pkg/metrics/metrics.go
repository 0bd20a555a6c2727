package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Desired state metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_records_total",
			Help: "Total number of resource records by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Reconciler metrics
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconcile_attempts_total",
			Help: "Total number of reconciliation attempts by kind, action and outcome",
		},
		[]string{"kind", "action", "outcome"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_reconcile_duration_seconds",
			Help:    "Time taken to reconcile one record (render, execute, write back) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ReconciliationCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconcile_cycle_duration_seconds",
			Help:    "Time taken by one dispatch cycle over the pending records in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_reconcile_conflicts_total",
			Help: "Total number of attempts discarded because the desired revision moved on",
		},
		[]string{"kind"},
	)

	RetriesScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_retries_scheduled_total",
			Help: "Total number of retries scheduled after a transient failure",
		},
		[]string{"kind"},
	)

	RetriesExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_retries_exhausted_total",
			Help: "Total number of records that used up their retry budget",
		},
		[]string{"kind"},
	)

	DriftDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_drift_detected_total",
			Help: "Total number of applied records found out of sync with the host",
		},
		[]string{"kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queue_depth",
			Help: "Number of claimable records seen by the last dispatch cycle",
		},
	)

	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_workers_busy",
			Help: "Number of workers currently reconciling a record",
		},
	)

	// Executor metrics
	ArtifactDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_artifact_duration_seconds",
			Help:    "Time taken to execute a rendered artifact in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_commands_total",
			Help: "Total number of external commands run by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconciliationCycleDuration)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(RetriesScheduled)
	prometheus.MustRegister(RetriesExhausted)
	prometheus.MustRegister(DriftDetected)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(ArtifactDuration)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
