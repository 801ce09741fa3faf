// Package metrics holds the Prometheus collectors of the push worker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qws941/safewallet/webpush"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeExpired   = "expired"
	OutcomeRetryable = "retryable"
	OutcomeFailed    = "failed"
)

// Job outcomes.
const (
	JobAcked     = "acked"
	JobRetried   = "retried"
	JobDiscarded = "discarded"
)

// Metrics records delivery and queue activity. A nil *Metrics records nothing.
type Metrics struct {
	DeliveriesTotal       *prometheus.CounterVec
	JobsTotal             *prometheus.CounterVec
	JobDurationSeconds    prometheus.Histogram
	BatchesRetriedTotal   prometheus.Counter
	SubscriptionsPruned   prometheus.Counter
	StoreWriteErrorsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webpush_deliveries_total",
				Help: "Push deliveries by outcome.",
			},
			[]string{"outcome"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webpush_queue_jobs_total",
				Help: "Queue jobs processed by outcome.",
			},
			[]string{"outcome"},
		),
		JobDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webpush_queue_job_duration_seconds",
				Help:    "Time to fan out and reconcile one queue job.",
				Buckets: prometheus.DefBuckets,
			},
		),
		BatchesRetriedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webpush_queue_batches_retried_total",
				Help: "Batches returned to the queue because VAPID keys are not configured.",
			},
		),
		SubscriptionsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webpush_subscriptions_pruned_total",
				Help: "Subscriptions removed after repeated delivery failures.",
			},
		),
		StoreWriteErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webpush_store_write_errors_total",
				Help: "Failed subscription bookkeeping writes by operation.",
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(
		m.DeliveriesTotal,
		m.JobsTotal,
		m.JobDurationSeconds,
		m.BatchesRetriedTotal,
		m.SubscriptionsPruned,
		m.StoreWriteErrorsTotal,
	)
	return m
}

// Outcome classifies a delivery result for the deliveries counter.
func Outcome(res *webpush.Result) string {
	switch {
	case res.Success:
		return OutcomeDelivered
	case res.ShouldRemove():
		return OutcomeExpired
	case res.Retryable():
		return OutcomeRetryable
	default:
		return OutcomeFailed
	}
}

// ObserveDelivery counts one delivery result.
func (m *Metrics) ObserveDelivery(res *webpush.Result) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(Outcome(res)).Inc()
}

// ObserveJob counts a finished job and how long it took.
func (m *Metrics) ObserveJob(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDurationSeconds.Observe(d.Seconds())
}

// BatchRetried counts a batch handed back to the queue unprocessed.
func (m *Metrics) BatchRetried() {
	if m == nil {
		return
	}
	m.BatchesRetriedTotal.Inc()
}

// StoreWriteFailed counts a failed bookkeeping write.
func (m *Metrics) StoreWriteFailed(op string) {
	if m == nil {
		return
	}
	m.StoreWriteErrorsTotal.WithLabelValues(op).Inc()
}

// Pruned counts subscriptions removed by the failure threshold sweep.
func (m *Metrics) Pruned(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsPruned.Add(float64(n))
}
