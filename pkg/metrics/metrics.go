package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task lifecycle metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "erezept_tasks_total",
			Help: "Total number of prescription tasks by status",
		},
		[]string{"status"},
	)

	TaskOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_task_operations_total",
			Help: "Total number of task lifecycle operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	TaskOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erezept_task_operation_duration_seconds",
			Help:    "Time taken to complete a task lifecycle operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Messaging metrics
	CommunicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_communications_total",
			Help: "Total number of communications created by kind",
		},
		[]string{"kind"},
	)

	DispensesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_dispenses_total",
			Help: "Total number of medication dispenses recorded by flow type",
		},
		[]string{"flow_type"},
	)

	// Audit metrics
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_audit_events_total",
			Help: "Total number of audit trail entries appended",
		},
		[]string{"agent_kind"},
	)

	// Sweeper metrics
	SweeperDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_sweeper_deletions_total",
			Help: "Total number of resources deleted by the timeout sweeper",
		},
		[]string{"resource"},
	)

	SweeperRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erezept_sweeper_run_duration_seconds",
			Help:    "Time taken for a single sweeper pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// VAU metrics
	VAURequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_vau_requests_total",
			Help: "Total number of VAU tunnel requests by status",
		},
		[]string{"status"},
	)

	VAUSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erezept_vau_sessions_active",
			Help: "Number of active VAU pseudonym sessions",
		},
	)

	// Inner API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_api_requests_total",
			Help: "Total number of inner API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erezept_api_request_duration_seconds",
			Help:    "Inner API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Trust store metrics
	TSLRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_tsl_refresh_total",
			Help: "Total number of TSL refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	TSLAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erezept_tsl_age_seconds",
			Help: "Age of the currently loaded TSL in seconds",
		},
	)

	BNetzAVLRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_bnetza_vl_refresh_total",
			Help: "Total number of BNetzA-VL refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	BNetzAVLAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erezept_bnetza_vl_age_seconds",
			Help: "Age of the currently loaded BNetzA-VL in seconds",
		},
	)

	// OCSP cache metrics
	OCSPCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "erezept_ocsp_cache_size",
			Help: "Number of entries currently held in the OCSP response cache",
		},
	)

	OCSPLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_ocsp_lookups_total",
			Help: "Total number of OCSP revocation lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Snapshot metrics
	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "erezept_snapshot_duration_seconds",
			Help:    "Time taken to persist a state snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erezept_snapshots_total",
			Help: "Total number of snapshot persist attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TaskOperationsTotal)
	prometheus.MustRegister(TaskOperationDuration)
	prometheus.MustRegister(CommunicationsTotal)
	prometheus.MustRegister(DispensesTotal)
	prometheus.MustRegister(AuditEventsTotal)
	prometheus.MustRegister(SweeperDeletionsTotal)
	prometheus.MustRegister(SweeperRunDuration)
	prometheus.MustRegister(VAURequestsTotal)
	prometheus.MustRegister(VAUSessionsActive)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TSLRefreshTotal)
	prometheus.MustRegister(TSLAgeSeconds)
	prometheus.MustRegister(BNetzAVLRefreshTotal)
	prometheus.MustRegister(BNetzAVLAgeSeconds)
	prometheus.MustRegister(OCSPCacheSize)
	prometheus.MustRegister(OCSPLookupsTotal)
	prometheus.MustRegister(SnapshotDuration)
	prometheus.MustRegister(SnapshotsTotal)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
