package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lakeingest"

// Metrics holds the ingestion collectors and their registry.
type Metrics struct {
	FilesTotal       *prometheus.CounterVec
	RowsCommitted    *prometheus.CounterVec
	RowsDropped      *prometheus.CounterVec
	ConflictsRetried *prometheus.CounterVec
	FileDuration     *prometheus.HistogramVec
	RefSyncs         *prometheus.CounterVec
	RefVersions      prometheus.Gauge
	ActiveWorkers    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Bronze files by terminal status",
		},
		[]string{"data_type", "status"},
	)
	m.RowsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_committed_total",
			Help:      "Rows committed to silver tables",
		},
		[]string{"table"},
	)
	m.RowsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "Rows dropped before commit by reason",
		},
		[]string{"reason"},
	)
	m.ConflictsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lake_conflicts_retried_total",
			Help:      "Guarded lake writes retried after a version conflict",
		},
		[]string{"op"},
	)
	m.FileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time to ingest one bronze file",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"data_type"},
	)
	m.RefSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refdata_syncs_total",
			Help:      "Reference-data sync attempts by result",
		},
		[]string{"result"}, // "written", "unchanged", "error"
	)
	m.RefVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refdata_versions",
			Help:      "Instrument versions in the store after the last sync",
		},
	)
	m.ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Ingestion workers currently processing a file",
		},
	)

	m.registry.MustRegister(
		m.FilesTotal,
		m.RowsCommitted,
		m.RowsDropped,
		m.ConflictsRetried,
		m.FileDuration,
		m.RefSyncs,
		m.RefVersions,
		m.ActiveWorkers,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordFile counts a file reaching status.
func (m *Metrics) RecordFile(dataType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(dataType, status).Inc()
	m.FileDuration.WithLabelValues(dataType).Observe(d.Seconds())
}

// RecordRowsCommitted adds n rows committed to table.
func (m *Metrics) RecordRowsCommitted(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsCommitted.WithLabelValues(table).Add(float64(n))
}

// RecordRowsDropped adds n rows dropped for reason.
func (m *Metrics) RecordRowsDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordConflict counts one conflict retry of op. Its signature matches
// lake.RetryConfig.OnConflict.
func (m *Metrics) RecordConflict(op string, _ uint64) {
	if m == nil {
		return
	}
	m.ConflictsRetried.WithLabelValues(op).Inc()
}

// RecordRefSync counts a reference-data sync.
func (m *Metrics) RecordRefSync(result string, versions int) {
	if m == nil {
		return
	}
	m.RefSyncs.WithLabelValues(result).Inc()
	if result != "error" {
		m.RefVersions.Set(float64(versions))
	}
}

// WorkerStarted and WorkerDone track the active worker gauge.
func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.ActiveWorkers.Inc()
	}
}

func (m *Metrics) WorkerDone() {
	if m != nil {
		m.ActiveWorkers.Dec()
	}
}
