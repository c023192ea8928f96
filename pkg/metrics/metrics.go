package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	MessagesSent       prometheus.Counter
	MessagesRetried    prometheus.Counter
	MessagesFailed     prometheus.Counter
	DispatchLatency    prometheus.Histogram
	DispatchBatchSize  prometheus.Gauge
	RateLimitedCycles  prometheus.Counter
	SkippedCycles      prometheus.Counter
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates the application metrics and registers them on reg.
// Passing nil registers on the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_sent_total",
			Help:      "Total number of queued messages delivered",
		}),
		MessagesRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_retried_total",
			Help:      "Total number of failed attempts rescheduled for retry",
		}),
		MessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_failed_total",
			Help:      "Total number of messages that exhausted their attempts",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one dispatch cycle",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		DispatchBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_size",
			Help:      "Number of due messages picked by the last cycle",
		}),
		RateLimitedCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rate_limited_cycles_total",
			Help:      "Total number of cycles stopped by the rate limiter",
		}),
		SkippedCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "skipped_cycles_total",
			Help:      "Total number of cycles skipped because another owner held the lease",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Fan-out deliveries by event type and outcome",
		}, []string{"event", "status"}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// DBResult labels a database operation outcome.
func DBResult(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
