package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookingstore"

// Metrics holds the store's Prometheus collectors. Each instance owns its
// registry so several stores can live in one process (tests, tooling).
type Metrics struct {
	Registry *prometheus.Registry

	QueryDuration     prometheus.Histogram
	PartitionsTouched prometheus.Histogram
	RowsExamined      prometheus.Counter
	RowsReturned      prometheus.Counter
	QueryErrors       prometheus.Counter

	LockWait      *prometheus.HistogramVec
	LockContended *prometheus.CounterVec
	LockTimeouts  *prometheus.CounterVec

	Writes       *prometheus.CounterVec
	WriteLatency *prometheus.HistogramVec

	DriftRepairs *prometheus.CounterVec
	Partitions   prometheus.Gauge
	Records      prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry, along with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query latency from planning to merged result.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		PartitionsTouched: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "partitions_touched",
			Help:      "Partitions scanned per query after pruning.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		RowsExamined: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "rows_examined_total",
			Help:      "Records read from partitions or indexes.",
		}),
		RowsReturned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "rows_returned_total",
			Help:      "Records returned to callers.",
		}),
		QueryErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Queries that failed.",
		}),

		LockWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for contended partition locks.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"mode"}),
		LockContended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "lock_contended_total",
			Help:      "Lock acquisitions that had to wait.",
		}, []string{"partition", "mode"}),
		LockTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up with Busy.",
		}, []string{"partition", "mode"}),

		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "writes_total",
			Help:      "Write operations by kind and outcome.",
		}, []string{"op", "result"}),
		WriteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "write_duration_seconds",
			Help:      "Write latency including the partition lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),

		DriftRepairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      "drift_repairs_total",
			Help:      "Summaries found diverged from recomputation and repaired.",
		}, []string{"kind"}),
		Partitions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "count",
			Help:      "Defined partitions including the fallback.",
		}),
		Records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "records",
			Help:      "Records stored across all partitions.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
