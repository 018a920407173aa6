package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_submissions_total",
			Help: "Total notification submissions by channel and outcome",
		},
		[]string{"type", "outcome"},
	)

	messagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_published_total",
			Help: "Total messages published to the broker by routing key",
		},
		[]string{"routing_key"},
	)

	messagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_consumed_total",
			Help: "Total messages consumed from the broker",
		},
		[]string{"queue"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total terminal delivery outcomes by channel and provider",
		},
		[]string{"type", "provider", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_delivery_duration_seconds",
			Help:    "Provider send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"type", "provider"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_retries_total",
			Help: "Total retry republishes by channel",
		},
		[]string{"type"},
	)

	dlqMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_dlq_messages_total",
			Help: "Total messages routed to the dead letter queue",
		},
		[]string{"type", "reason"},
	)

	idempotencyHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_idempotency_hits_total",
			Help: "Total duplicate submissions or deliveries short-circuited",
		},
		[]string{"scope"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_rate_limited_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)

	templateCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_template_cache_total",
			Help: "Template cache lookups by result",
		},
		[]string{"result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notify_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"provider"},
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_message_processing_duration_seconds",
			Help:    "Worker pipeline duration per message in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"type"},
	)
)

func RecordSubmission(notificationType, outcome string) {
	submissionsTotal.WithLabelValues(notificationType, outcome).Inc()
}

func RecordPublish(routingKey string) {
	messagesPublishedTotal.WithLabelValues(routingKey).Inc()
}

func RecordConsumed(queue string) {
	messagesConsumedTotal.WithLabelValues(queue).Inc()
}

func RecordDelivery(notificationType, provider, status string, duration time.Duration) {
	deliveriesTotal.WithLabelValues(notificationType, provider, status).Inc()
	deliveryDuration.WithLabelValues(notificationType, provider).Observe(duration.Seconds())
}

func RecordRetry(notificationType string) {
	retriesTotal.WithLabelValues(notificationType).Inc()
}

func RecordDLQ(notificationType, reason string) {
	dlqMessagesTotal.WithLabelValues(notificationType, reason).Inc()
}

func RecordIdempotencyHit(scope string) {
	idempotencyHitsTotal.WithLabelValues(scope).Inc()
}

func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

func RecordTemplateCache(result string) {
	templateCacheTotal.WithLabelValues(result).Inc()
}

func SetBreakerState(provider string, state int) {
	breakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordProcessing(notificationType string, duration time.Duration) {
	processingDuration.WithLabelValues(notificationType).Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
