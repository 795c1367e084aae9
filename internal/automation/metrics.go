package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agenda"

var (
	jobQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "queue_size",
			Help:      "Number of notification jobs by status",
		},
		[]string{"status"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "jobs_processed_total",
			Help:      "Total job processing outcomes",
		},
		[]string{"type", "outcome"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "delivery_duration_seconds",
			Help:      "Time to deliver a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// recordJobOutcome records a job processing outcome metric.
func recordJobOutcome(jobType JobType, outcome string) {
	jobsProcessed.WithLabelValues(string(jobType), outcome).Inc()
}

// recordDeliveryDuration records delivery duration.
func recordDeliveryDuration(jobType JobType, duration time.Duration) {
	deliveryDuration.WithLabelValues(string(jobType)).Observe(duration.Seconds())
}

// recordWebhookEvent records a webhook event outcome.
func recordWebhookEvent(kind, outcome string) {
	webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	jobQueueSize.WithLabelValues(string(JobStatusPending)).Set(float64(stats.Pending))
	jobQueueSize.WithLabelValues(string(JobStatusSent)).Set(float64(stats.Sent))
	jobQueueSize.WithLabelValues(string(JobStatusFailed)).Set(float64(stats.Failed))
}
