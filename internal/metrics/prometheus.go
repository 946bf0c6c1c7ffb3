package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redeemer"

// Round outcomes recorded by RecordRound.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeShortfall = "shortfall"
	OutcomeFailed    = "failed"
)

// RedeemMetrics holds the Prometheus collectors for redemption activity.
// Metrics are registered in a dedicated registry so they do not interfere
// with the default global registry.
//
// All methods are safe to call on a nil *RedeemMetrics, which lets callers
// run without metrics.
type RedeemMetrics struct {
	registry *prometheus.Registry

	rounds            *prometheus.CounterVec
	subRequests       *prometheus.CounterVec
	shortfalls        prometheus.Counter
	submissionErrors  *prometheus.CounterVec
	submitDuration    *prometheus.HistogramVec
	expiryNotified    prometheus.Counter
	watcherEvalErrors prometheus.Counter
	finalizedHeight   prometheus.Gauge
	startTime         time.Time
	uptimeSeconds     prometheus.GaugeFunc
}

// New creates a RedeemMetrics with all collectors registered.
func New() *RedeemMetrics {
	reg := prometheus.NewRegistry()

	m := &RedeemMetrics{
		registry: reg,
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_rounds_total",
			Help:      "Submission rounds by outcome.",
		}, []string{"outcome"}),
		subRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_subrequests_total",
			Help:      "Sub-requests submitted by result (created or failed).",
		}, []string{"result"}),
		shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_shortfall_total",
			Help:      "Rounds that left an unfulfilled remainder.",
		}),
		submissionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redeem_submission_errors_total",
			Help:      "Transactions rejected by the ledger, by operation.",
		}, []string{"op"}),
		submitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redeem_submission_duration_seconds",
			Help:      "Time from broadcast to decoded receipt, by operation.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		expiryNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_notifications_total",
			Help:      "Expiry callbacks fired.",
		}),
		watcherEvalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_evaluation_errors_total",
			Help:      "Expiry watcher rounds that failed to evaluate.",
		}),
		finalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "finalized_height",
			Help:      "Latest finalized ledger height observed.",
		}),
		startTime: time.Now(),
	}
	m.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the daemon started in seconds.",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	reg.MustRegister(
		m.rounds,
		m.subRequests,
		m.shortfalls,
		m.submissionErrors,
		m.submitDuration,
		m.expiryNotified,
		m.watcherEvalErrors,
		m.finalizedHeight,
		m.uptimeSeconds,
	)

	return m
}

// Registry returns the Prometheus registry used by these metrics.
func (m *RedeemMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRound records one submission round and how many sub-requests it
// created or lost.
func (m *RedeemMetrics) RecordRound(outcome string, created, failed int) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(outcome).Inc()
	if created > 0 {
		m.subRequests.WithLabelValues("created").Add(float64(created))
	}
	if failed > 0 {
		m.subRequests.WithLabelValues("failed").Add(float64(failed))
	}
	if outcome == OutcomeShortfall {
		m.shortfalls.Inc()
	}
}

// RecordSubmissionError counts a ledger rejection for op.
func (m *RedeemMetrics) RecordSubmissionError(op string) {
	if m == nil {
		return
	}
	m.submissionErrors.WithLabelValues(op).Inc()
}

// ObserveSubmission records how long a submission took.
func (m *RedeemMetrics) ObserveSubmission(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordExpiryNotification counts one fired expiry callback.
func (m *RedeemMetrics) RecordExpiryNotification() {
	if m == nil {
		return
	}
	m.expiryNotified.Inc()
}

// RecordWatcherError counts a failed watcher evaluation round.
func (m *RedeemMetrics) RecordWatcherError() {
	if m == nil {
		return
	}
	m.watcherEvalErrors.Inc()
}

// SetFinalizedHeight updates the finalized height gauge.
func (m *RedeemMetrics) SetFinalizedHeight(h uint64) {
	if m == nil {
		return
	}
	m.finalizedHeight.Set(float64(h))
}

// Handler returns an http.Handler that serves metrics in the Prometheus text
// exposition format.
func (m *RedeemMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
