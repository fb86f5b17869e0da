package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IssuesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwire_issues_published_total",
			Help: "Total number of newsletter issues accepted for delivery.",
		},
	)

	IdempotentReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwire_idempotent_replays_total",
			Help: "Total number of publish requests answered from a saved response.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwire_deliveries_total",
			Help: "Total number of delivery tasks resolved, by outcome.",
		},
		[]string{"outcome"}, // delivered, skipped
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwire_delivery_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. provider_5xx, timeout, network, other
	)

	DeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwire_dead_lettered_total",
			Help: "Total number of delivery tasks abandoned after exhausting retries.",
		},
	)

	SendLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inkwire_send_latency_seconds",
			Help:    "Latency of mail provider send attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PendingTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwire_pending_tasks",
			Help: "Delivery tasks currently waiting in the outbox.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		IssuesPublishedTotal,
		IdempotentReplaysTotal,
		DeliveriesTotal,
		RetriesTotal,
		DeadLetteredTotal,
		SendLatencySeconds,
		PendingTasks,
	)
}

// RecordIssuePublished increments the published-issues counter.
func RecordIssuePublished() {
	IssuesPublishedTotal.Inc()
}

// RecordIdempotentReplay increments the saved-response replay counter.
func RecordIdempotentReplay() {
	IdempotentReplaysTotal.Inc()
}

// RecordDelivery records a resolved delivery task and its send latency.
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		SendLatencySeconds.Observe(latency.Seconds())
	}
}

// RecordRetry records a scheduled retry with its failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDeadLettered records a task abandoned as permanently failed.
func RecordDeadLettered() {
	DeadLetteredTotal.Inc()
}

// UpdatePendingTasks sets the outbox backlog gauge.
func UpdatePendingTasks(n float64) {
	PendingTasks.Set(n)
}
