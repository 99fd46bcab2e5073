package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter

	LoginSuccesses prometheus.Counter
	LoginFailures  prometheus.Counter
	LoginLockouts  prometheus.Counter

	PHIReads             prometheus.Counter
	PHIWrites            prometheus.Counter
	ClassifierRejections prometheus.Counter

	AuditEntriesTotal   prometheus.Counter
	AuditEntriesFlushed prometheus.Counter
	AuditFlushFailures  prometheus.Counter
	AuditQueueDepth     prometheus.Gauge
}

// NewCollector registers the collector against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewCollector(serviceName string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total sessions issued after password authentication.",
		}),

		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Total sessions expired by the sliding inactivity window.",
		}),

		LoginSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "login_successes_total",
			Help:      "Total successful password authentications.",
		}),

		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "login_failures_total",
			Help:      "Total failed password authentications.",
		}),

		LoginLockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "login_lockouts_total",
			Help:      "Total logins refused because the account was locked.",
		}),

		PHIReads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "phi",
			Name:      "reads_total",
			Help:      "Total protected data reads that passed the permission gate.",
		}),

		PHIWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "phi",
			Name:      "writes_total",
			Help:      "Total protected data writes that passed the permission gate.",
		}),

		ClassifierRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "phi",
			Name:      "classifier_rejections_total",
			Help:      "Client-side writes refused by the PHI keyword guard.",
		}),

		AuditEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries recorded.",
		}),

		AuditEntriesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_flushed_total",
			Help:      "Total audit entries delivered to the sink.",
		}),

		AuditFlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "flush_failures_total",
			Help:      "Audit flushes that failed and were re-queued. Alert if growing.",
		}),

		AuditQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Audit entries currently buffered in memory.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
