package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	MessagesAcceptedTotal  *prometheus.CounterVec
	MessagesHandledTotal   *prometheus.CounterVec
	ProviderSendDuration   *prometheus.HistogramVec
	RetryPublishedTotal    *prometheus.CounterVec
	ScheduledPromotedTotal prometheus.Counter
	DLQRoutedTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on the given registerer. Tests pass a fresh
// registry so parallel constructions do not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		MessagesAcceptedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_accepted_total",
				Help: "Messages accepted by the ingestion gateway",
			},
			[]string{"channel", "status"},
		),
		MessagesHandledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messages_handled_total",
				Help: "Messages handled by channel workers, by outcome",
			},
			[]string{"channel", "outcome"},
		),
		ProviderSendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_send_duration_seconds",
				Help:    "Duration of provider send calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		RetryPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_published_total",
				Help: "Messages republished by the retry loop",
			},
			[]string{"channel", "failure_type"},
		),
		ScheduledPromotedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduled_promoted_total",
				Help: "Scheduled messages promoted to PENDING",
			},
		),
		DLQRoutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlq_routed_total",
				Help: "Messages routed to the dead-letter queue",
			},
			[]string{"channel", "failure_type"},
		),
	}
}
