// Package services implements the business logic of the outbound message
// queue. This file exposes Prometheus instrumentation for the dispatch
// pipeline. Label cardinality is kept bounded: attempt results and queue
// statuses are both closed sets.
package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/caseflow/go-messaging-backend/internal/domain"
)

var (
	// queueAttempts counts delivery attempts by outcome.
	// result: sent | retry | dead | circuit_open
	queueAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_attempts_total",
			Help: "Total delivery attempts by outcome.",
		},
		[]string{"result"},
	)

	// queueDepth gauges the number of rows per queue status. Refreshed on
	// worker ticks and operator list requests.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_queue_depth",
			Help: "Current number of queue rows per status.",
		},
		[]string{"status"},
	)

	// batchDuration records how long one ProcessOnce invocation takes.
	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Duration of one dispatch batch in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// enqueued counts accepted enqueue calls by kind (created vs deduplicated).
	enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_enqueued_total",
			Help: "Total enqueue calls by result.",
		},
		[]string{"result"}, // created | deduplicated
	)
)

func init() {
	prometheus.MustRegister(queueAttempts, queueDepth, batchDuration, enqueued)
}

// observeQueueDepth pushes a per-status count snapshot into the depth gauge.
func observeQueueDepth(counts map[domain.QueueStatus]int64) {
	for status, n := range counts {
		queueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
