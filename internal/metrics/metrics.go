// Package metrics exposes the service's two mandated global counters as
// lock-free atomics, mirrored into Prometheus collectors for scraping.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide counters. Readers tolerate momentary
// skew; no coordinated snapshot is needed.
type Metrics struct {
	totalRowsInserted atomic.Int64
	queueDepth        atomic.Int64

	rowsInsertedCounter prometheus.Counter
	queueDepthGauge     prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
	insertDuration      prometheus.Histogram
}

// New constructs the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsInsertedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_total_rows_inserted",
			Help: "Total rows successfully inserted into ClickHouse.",
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current number of tasks resident in the bounded queue.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_requests_total",
			Help: "HTTP requests to /ingest, labeled by outcome status.",
		}, []string{"status"}),
		insertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_writer_insert_duration_seconds",
			Help:    "Time spent in a single ClickHouse batch insert.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.rowsInsertedCounter, m.queueDepthGauge, m.requestsTotal, m.insertDuration)
	return m
}

// AddRowsInserted records K confirmed inserted rows.
func (m *Metrics) AddRowsInserted(k int) {
	m.totalRowsInserted.Add(int64(k))
	m.rowsInsertedCounter.Add(float64(k))
}

// TotalRowsInserted returns the monotonic row counter.
func (m *Metrics) TotalRowsInserted() int64 {
	return m.totalRowsInserted.Load()
}

// IncQueueDepth is called by the producer on a successful enqueue.
func (m *Metrics) IncQueueDepth() {
	m.queueDepth.Add(1)
	m.queueDepthGauge.Inc()
}

// DecQueueDepth is called by the consumer on dequeue.
func (m *Metrics) DecQueueDepth() {
	m.queueDepth.Add(-1)
	m.queueDepthGauge.Dec()
}

// QueueDepth returns the current gauge value.
func (m *Metrics) QueueDepth() int64 {
	return m.queueDepth.Load()
}

// ObserveRequest records one /ingest response by its outcome status.
func (m *Metrics) ObserveRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// ObserveInsertDuration records one writer insert's wall time in seconds.
func (m *Metrics) ObserveInsertDuration(seconds float64) {
	m.insertDuration.Observe(seconds)
}
