// Package metrics provides Prometheus metrics for the indexer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Stream metrics
	EventsReceived *prometheus.CounterVec
	Reconnects     *prometheus.CounterVec
	StreamState    prometheus.Gauge

	// Decode metrics
	DecodeFailures *prometheus.CounterVec

	// Window metrics
	DuplicatesDropped *prometheus.CounterVec
	WindowFlushes     *prometheus.CounterVec
	WindowRecords     prometheus.Gauge

	// Write metrics
	BatchesWritten *prometheus.CounterVec
	BatchesFailed  *prometheus.CounterVec
	RowsWritten    *prometheus.CounterVec
	WriteRetries   *prometheus.CounterVec
	WriteDuration  *prometheus.HistogramVec
	BatchRows      *prometheus.HistogramVec

	// Checkpoint metrics
	CheckpointSaves *prometheus.CounterVec
	LastDurableSlot *prometheus.GaugeVec

	// Pipeline metrics
	RawQueueDepth     prometheus.Gauge
	DecodedQueueDepth prometheus.Gauge

	// Supporting sinks
	ArchiveErrors *prometheus.CounterVec
	NotifyErrors  *prometheus.CounterVec

	// Throughput
	TransactionsPerSecond prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_indexer"
	}

	m := &Metrics{
		EventsReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_received_total",
				Help:      "Total number of stream updates received",
			},
			[]string{"network", "kind"},
		),
		Reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Total number of stream reconnects",
			},
			[]string{"network"},
		),
		StreamState: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_state",
				Help:      "Consumer state (0=idle 1=connecting 2=streaming 3=backing_off 4=terminal)",
			},
		),
		DecodeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Total number of updates skipped as undecodable",
			},
			[]string{"network", "reason"},
		),
		DuplicatesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_dropped_total",
				Help:      "Total number of duplicate signatures dropped in the dedup window",
			},
			[]string{"network"},
		),
		WindowFlushes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "window_flushes_total",
				Help:      "Total number of window flushes by trigger",
			},
			[]string{"network", "reason"},
		),
		WindowRecords: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_records",
				Help:      "Records currently held in the ordering window",
			},
		),
		BatchesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_written_total",
				Help:      "Total number of batches committed to storage",
			},
			[]string{"network", "table"},
		),
		BatchesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_failed_total",
				Help:      "Total number of batches that exhausted their retry budget",
			},
			[]string{"network", "table"},
		),
		RowsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of rows written to storage",
			},
			[]string{"network", "table"},
		),
		WriteRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_retries_total",
				Help:      "Total number of batch write retry attempts",
			},
			[]string{"network", "table"},
		),
		WriteDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "write_duration_seconds",
				Help:      "Time to write one batch to storage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"network", "table"},
		),
		BatchRows: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_rows",
				Help:      "Number of rows per committed batch",
				Buckets:   prometheus.ExponentialBuckets(10, 2, 10), // 10 to ~10k
			},
			[]string{"network", "table"},
		),
		CheckpointSaves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_saves_total",
				Help:      "Total number of checkpoint saves",
			},
			[]string{"network"},
		),
		LastDurableSlot: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_durable_slot",
				Help:      "Highest slot certified durable by the checkpoint",
			},
			[]string{"network"},
		),
		RawQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "raw_queue_depth",
				Help:      "Current number of events in the raw queue",
			},
		),
		DecodedQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "decoded_queue_depth",
				Help:      "Current number of records in the decoded queue",
			},
		),
		ArchiveErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Total number of archive segment errors",
			},
			[]string{"network", "backend"},
		),
		NotifyErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_errors_total",
				Help:      "Total number of commit notification errors",
			},
			[]string{"network"},
		),
		TransactionsPerSecond: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transactions_per_second",
				Help:      "Current transaction ingest rate",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Network string
	Kind    string
	Reason  string
	Table   string
	Backend string
}

// IncEventsReceived increments the events received counter.
func (m *Metrics) IncEventsReceived(l Labels) {
	m.EventsReceived.WithLabelValues(l.Network, l.Kind).Inc()
}

// IncReconnects increments the reconnects counter.
func (m *Metrics) IncReconnects(l Labels) {
	m.Reconnects.WithLabelValues(l.Network).Inc()
}

// SetStreamState sets the consumer state gauge.
func (m *Metrics) SetStreamState(state float64) {
	m.StreamState.Set(state)
}

// IncDecodeFailures increments the decode failures counter.
func (m *Metrics) IncDecodeFailures(l Labels) {
	m.DecodeFailures.WithLabelValues(l.Network, l.Reason).Inc()
}

// IncDuplicatesDropped increments the duplicates dropped counter.
func (m *Metrics) IncDuplicatesDropped(l Labels) {
	m.DuplicatesDropped.WithLabelValues(l.Network).Inc()
}

// IncWindowFlushes increments the window flushes counter.
func (m *Metrics) IncWindowFlushes(l Labels) {
	m.WindowFlushes.WithLabelValues(l.Network, l.Reason).Inc()
}

// SetWindowRecords sets the current window occupancy.
func (m *Metrics) SetWindowRecords(n float64) {
	m.WindowRecords.Set(n)
}

// IncBatchesWritten increments the batches written counter.
func (m *Metrics) IncBatchesWritten(l Labels) {
	m.BatchesWritten.WithLabelValues(l.Network, l.Table).Inc()
}

// IncBatchesFailed increments the batches failed counter.
func (m *Metrics) IncBatchesFailed(l Labels) {
	m.BatchesFailed.WithLabelValues(l.Network, l.Table).Inc()
}

// AddRowsWritten adds to the rows written counter.
func (m *Metrics) AddRowsWritten(l Labels, rows float64) {
	m.RowsWritten.WithLabelValues(l.Network, l.Table).Add(rows)
}

// IncWriteRetries increments the write retries counter.
func (m *Metrics) IncWriteRetries(l Labels) {
	m.WriteRetries.WithLabelValues(l.Network, l.Table).Inc()
}

// ObserveWriteDuration records the time taken by one batch write.
func (m *Metrics) ObserveWriteDuration(l Labels, seconds float64) {
	m.WriteDuration.WithLabelValues(l.Network, l.Table).Observe(seconds)
}

// ObserveBatchRows records the number of rows in a committed batch.
func (m *Metrics) ObserveBatchRows(l Labels, rows float64) {
	m.BatchRows.WithLabelValues(l.Network, l.Table).Observe(rows)
}

// IncCheckpointSaves increments the checkpoint saves counter.
func (m *Metrics) IncCheckpointSaves(l Labels) {
	m.CheckpointSaves.WithLabelValues(l.Network).Inc()
}

// SetLastDurableSlot sets the last durable slot gauge.
func (m *Metrics) SetLastDurableSlot(l Labels, slot float64) {
	m.LastDurableSlot.WithLabelValues(l.Network).Set(slot)
}

// SetRawQueueDepth sets the current raw queue depth.
func (m *Metrics) SetRawQueueDepth(depth float64) {
	m.RawQueueDepth.Set(depth)
}

// SetDecodedQueueDepth sets the current decoded queue depth.
func (m *Metrics) SetDecodedQueueDepth(depth float64) {
	m.DecodedQueueDepth.Set(depth)
}

// IncArchiveErrors increments the archive errors counter.
func (m *Metrics) IncArchiveErrors(l Labels) {
	m.ArchiveErrors.WithLabelValues(l.Network, l.Backend).Inc()
}

// IncNotifyErrors increments the notify errors counter.
func (m *Metrics) IncNotifyErrors(l Labels) {
	m.NotifyErrors.WithLabelValues(l.Network).Inc()
}

// SetTransactionsPerSecond sets the current ingest rate.
func (m *Metrics) SetTransactionsPerSecond(rate float64) {
	m.TransactionsPerSecond.Set(rate)
}
