// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsFetched         *prometheus.CounterVec
	EventsApplied         *prometheus.CounterVec
	EventsSkipped         prometheus.Counter
	EventProcessingErrors *prometheus.CounterVec
	LastAppliedBlock      prometheus.Gauge
	ScannedThroughBlock   prometheus.Gauge

	// Accounting metrics
	TransfersClassified *prometheus.CounterVec
	OrphanReferrals     prometheus.Counter
	ClampedPrices       *prometheus.CounterVec
	AllocationsRecorded prometheus.Counter

	// Latency metrics
	EventProcessingLatency *prometheus.HistogramVec
	ChainCallLatency       *prometheus.HistogramVec
	ChainCallErrors        *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulBatch prometheus.Gauge
	LeaseRenewals       *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "yield_ledger"
	}

	return &Metrics{
		// Ingestion metrics
		EventsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_fetched_total",
			Help:      "Total number of decoded events fetched from the chain by kind",
		}, []string{"kind"}),
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_applied_total",
			Help:      "Total number of events committed to the entity store by kind",
		}, []string{"kind"}),
		EventsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_skipped_total",
			Help:      "Total number of events skipped because they precede the checkpoint",
		}),
		EventProcessingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_errors_total",
			Help:      "Total number of event processing errors by type",
		}, []string{"kind", "error_type"}),
		LastAppliedBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_applied_block",
			Help:      "Block number of the last applied event",
		}),
		ScannedThroughBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "scanned_through_block",
			Help:      "Highest block whose logs have been fully processed",
		}),

		// Accounting metrics
		TransfersClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "transfers_total",
			Help:      "Total number of transfers by classification",
		}, []string{"class"}),
		OrphanReferrals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "orphan_referrals_total",
			Help:      "Total number of referrals with no preceding mint in their transaction",
		}),
		ClampedPrices: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "clamped_prices_total",
			Help:      "Total number of price readings below the stored last price",
		}, []string{"token"}),
		AllocationsRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "allocations_recorded_total",
			Help:      "Total number of allocation entries captured by rebalances",
		}),

		// Latency metrics
		EventProcessingLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_latency_seconds",
			Help:      "Event processing latency in seconds, including the store transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		ChainCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_latency_seconds",
			Help:      "Contract call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ChainCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_errors_total",
			Help:      "Total number of failed contract calls",
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulBatch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp",
			Help:      "Unix timestamp of the last fully applied block range",
		}),
		LeaseRenewals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "lease_renewals_total",
			Help:      "Total number of writer lease renewals by outcome",
		}, []string{"status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventsFetched adds n fetched events of a kind.
func RecordEventsFetched(kind string, n int) {
	DefaultMetrics.EventsFetched.WithLabelValues(kind).Add(float64(n))
}

// RecordEventApplied records a committed event and its latency.
func RecordEventApplied(kind string, block uint64, d time.Duration) {
	DefaultMetrics.EventsApplied.WithLabelValues(kind).Inc()
	DefaultMetrics.EventProcessingLatency.WithLabelValues(kind).Observe(d.Seconds())
	DefaultMetrics.LastAppliedBlock.Set(float64(block))
}

// RecordEventSkipped increments the skipped events counter.
func RecordEventSkipped() {
	DefaultMetrics.EventsSkipped.Inc()
}

// RecordEventError records an event processing error.
func RecordEventError(kind, errorType string) {
	DefaultMetrics.EventProcessingErrors.WithLabelValues(kind, errorType).Inc()
}

// RecordBatchComplete marks a block range as fully processed.
func RecordBatchComplete(scannedThrough uint64) {
	DefaultMetrics.ScannedThroughBlock.Set(float64(scannedThrough))
	DefaultMetrics.LastSuccessfulBatch.SetToCurrentTime()
}

// RecordTransfer increments the transfer counter for a classification.
func RecordTransfer(class string) {
	DefaultMetrics.TransfersClassified.WithLabelValues(class).Inc()
}

// RecordOrphanReferral increments the orphan referral counter.
func RecordOrphanReferral() {
	DefaultMetrics.OrphanReferrals.Inc()
}

// RecordClampedPrice increments the clamped price counter for a token.
func RecordClampedPrice(token string) {
	DefaultMetrics.ClampedPrices.WithLabelValues(token).Inc()
}

// RecordAllocations adds n captured allocation entries.
func RecordAllocations(n int) {
	DefaultMetrics.AllocationsRecorded.Add(float64(n))
}

// RecordChainCall records contract call metrics.
func RecordChainCall(method string, d time.Duration, err error) {
	DefaultMetrics.ChainCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.ChainCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordLeaseRenewal records a lease renewal outcome.
func RecordLeaseRenewal(ok bool) {
	status := "ok"
	if !ok {
		status = "lost"
	}
	DefaultMetrics.LeaseRenewals.WithLabelValues(status).Inc()
}
