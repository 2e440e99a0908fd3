package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline and broadcast fan-out.
type Metrics struct {
	RecordsFetched   prometheus.Counter
	RecordsNew       prometheus.Counter
	RecordsDuplicate prometheus.Counter
	IngestErrors     prometheus.Counter
	IngestDuration   prometheus.Histogram

	// Feed client metrics.
	FeedRequests        *prometheus.CounterVec // labels: outcome={success,error}
	FeedRequestDuration prometheus.Histogram
	FeedParseErrors     prometheus.Counter

	EventsPublished *prometheus.CounterVec // labels: kind

	// Broadcast metrics.
	BroadcastsSent    prometheus.Counter
	BroadcastErrors   prometheus.Counter
	ActiveSubscribers prometheus.Gauge

	// Scheduler metrics.
	SchedulerTicks   *prometheus.CounterVec // labels: job, outcome={success,error}
	SchedulerRunning prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RecordsFetched,
		m.RecordsNew,
		m.RecordsDuplicate,
		m.IngestErrors,
		m.IngestDuration,
		m.FeedRequests,
		m.FeedRequestDuration,
		m.FeedParseErrors,
		m.EventsPublished,
		m.BroadcastsSent,
		m.BroadcastErrors,
		m.ActiveSubscribers,
		m.SchedulerTicks,
		m.SchedulerRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests
// can construct as many instances as they need without "already registered"
// panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "records_fetched_total",
			Help:      "Total raw records handed to the ingestion use case.",
		}),
		RecordsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "records_new_total",
			Help:      "Total hazard events persisted for the first time.",
		}),
		RecordsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "records_duplicate_total",
			Help:      "Total records skipped because their external id was already stored.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "ingest_errors_total",
			Help:      "Total per-record validation and storage failures.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_monitor",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of one complete ingestion run.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "feed_requests_total",
			Help:      "USGS feed requests by outcome.",
		}, []string{"outcome"}),
		FeedRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_monitor",
			Name:      "feed_request_duration_seconds",
			Help:      "USGS feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FeedParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "feed_parse_errors_total",
			Help:      "Feed features quarantined for missing id or malformed geometry.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "events_published_total",
			Help:      "Domain events published on the in-process bus, by kind.",
		}, []string{"kind"}),
		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "broadcasts_sent_total",
			Help:      "Messages delivered to websocket subscribers.",
		}),
		BroadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "broadcast_errors_total",
			Help:      "Failed sends that caused a subscriber to be dropped.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_monitor",
			Name:      "active_subscribers",
			Help:      "Currently registered websocket subscriptions.",
		}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_monitor",
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler job firings by job id and outcome.",
		}, []string{"job", "outcome"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_monitor",
			Name:      "scheduler_running",
			Help:      "1 when the scheduler is started, 0 when stopped.",
		}),
	}
}
