package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the snapshot core.
type Metrics struct {
	// --- Snapshot ---
	SnapshotsCreated   *prometheus.CounterVec
	SnapshotsFailed    *prometheus.CounterVec
	SnapshotDuration   *prometheus.HistogramVec
	SnapshotInProgress prometheus.Gauge
	SnapshotItems      *prometheus.GaugeVec

	// --- Validation ---
	ValidationResults  *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	DiagnosticWrites   *prometheus.CounterVec

	// --- Request queue ---
	QueueDepth    prometheus.Gauge
	QueueOutcomes *prometheus.CounterVec

	// --- Draft workflow ---
	DraftFallbacks *prometheus.CounterVec

	// --- Messaging ---
	MessagesConsumed  *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	RequestDuplicates *prometheus.CounterVec

	// --- Admin API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	snapshotBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	return &Metrics{
		SnapshotsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_snapshots_created_total",
			Help: "Trading engine snapshots persisted",
		}, []string{"status"}),

		SnapshotsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_snapshots_failed_total",
			Help: "Snapshot attempts that did not persist a record",
		}, []string{"reason"}),

		SnapshotDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_snapshot_duration_seconds",
			Help:    "MakeSnapshot duration from lock acquisition to release",
			Buckets: snapshotBuckets,
		}, []string{"status"}),

		SnapshotInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_in_progress",
			Help: "1 while a snapshot holds the global lock",
		}),

		SnapshotItems: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_snapshot_items",
			Help: "Item counts of the last persisted snapshot",
		}, []string{"collection"}),

		ValidationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_validation_results_total",
			Help: "Final environment validation results by strategy",
		}, []string{"strategy", "result"}),

		ValidationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_validation_duration_seconds",
			Help:    "Single environment validation duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		DiagnosticWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_validation_diagnostics_written_total",
			Help: "Validation diagnostic payloads written to the blob store",
		}, []string{"result"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_queue_depth",
			Help: "Pending snapshot creation requests",
		}),

		QueueOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_snapshot_queue_outcomes_total",
			Help: "Processed snapshot creation requests by outcome",
		}, []string{"outcome"}),

		DraftFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_draft_fallback_total",
			Help: "Draft snapshots attempted by the fallback monitor",
		}, []string{"result"}),

		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_messages_consumed_total",
			Help: "NATS messages handled by kind and outcome",
		}, []string{"kind", "result"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_events_published_total",
			Help: "Outbound events published by outcome",
		}, []string{"subject", "result"}),

		RequestDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_snapshot_request_duplicates_total",
			Help: "Redelivered snapshot requests dropped, by the tier that caught them",
		}, []string{"tier"}),

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_api_requests_total",
			Help: "Admin API requests",
		}, []string{"route", "code"}),

		APIDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_api_request_duration_seconds",
			Help:    "Admin API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}
