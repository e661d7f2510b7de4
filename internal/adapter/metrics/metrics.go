package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TrackerMetrics holds the Prometheus metrics for an embedded tracker
// instance. Each instance registers on its own Registerer so multiple named
// instances in one process do not collide.
type TrackerMetrics struct {
	EventsStored   prometheus.Counter
	EventsDropped  *prometheus.CounterVec
	EventsUploaded prometheus.Counter
	UploadsTotal   *prometheus.CounterVec
	AuthFailures   prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// NewTrackerMetrics initializes and registers the tracker metrics.
func NewTrackerMetrics(reg prometheus.Registerer) *TrackerMetrics {
	factory := promauto.With(reg)
	return &TrackerMetrics{
		EventsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "event_tracker",
			Subsystem: "queue",
			Name:      "events_stored_total",
			Help:      "Total number of events appended to the durable queue.",
		}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_tracker",
			Subsystem: "queue",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by reason.",
		}, []string{"reason"}), // reason: opt_out, evicted, oversized, serialization
		EventsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "event_tracker",
			Subsystem: "upload",
			Name:      "events_uploaded_total",
			Help:      "Total number of events acknowledged by the collector.",
		}),
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "event_tracker",
			Subsystem: "upload",
			Name:      "cycles_total",
			Help:      "Total number of completed upload cycles by outcome.",
		}, []string{"outcome"}), // outcome: success, too_large, auth_failed, failed
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "event_tracker",
			Subsystem: "upload",
			Name:      "auth_failures_total",
			Help:      "Total number of failed authentication exchanges.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "event_tracker",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of unsent events in the durable queue.",
		}),
	}
}

// CollectorMetrics holds the Prometheus metrics for the collector server.
type CollectorMetrics struct {
	BatchesTotal  *prometheus.CounterVec
	EventsTotal   prometheus.Counter
	AuthTotal     *prometheus.CounterVec
	BatchBytes    prometheus.Histogram
}

// NewCollectorMetrics initializes and registers the collector metrics.
func NewCollectorMetrics(reg prometheus.Registerer) *CollectorMetrics {
	factory := promauto.With(reg)
	return &CollectorMetrics{
		BatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Total number of event batches by status.",
		}, []string{"status"}), // status: accepted, unauthorized, too_large, error_parse
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events accepted.",
		}),
		AuthTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collector",
			Subsystem: "auth",
			Name:      "exchanges_total",
			Help:      "Total number of authentication exchanges by status.",
		}, []string{"status"}), // status: issued, rejected
		BatchBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "collector",
			Subsystem: "ingest",
			Name:      "batch_bytes",
			Help:      "Size distribution of accepted batches.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
}
