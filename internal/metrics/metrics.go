// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAllowed      = "allowed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeRateLimited  = "rate_limited"

	DeliverySuccess = "success"
	DeliveryFailure = "failure"
)

var (
	initOnce sync.Once

	guardDecisionsCounter      *prometheus.CounterVec
	rateLimitFailOpenCounter   prometheus.Counter
	deliveryAttemptsCounter    *prometheus.CounterVec
	deliveryRetriesCounter     prometheus.Counter
	deliveryDurationMetric     prometheus.Histogram
	detachedTaskFailureCounter prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		guardDecisionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guard_decisions_total",
				Help: "Total inbound guard decisions by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitFailOpenCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "guard_rate_limit_fail_open_total",
				Help: "Requests allowed because the rate-limit store was unreachable.",
			},
		)

		deliveryAttemptsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_delivery_attempts_total",
				Help: "Total physical webhook delivery attempts by outcome.",
			},
			[]string{"outcome"},
		)

		deliveryRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_delivery_retries_total",
				Help: "Total webhook delivery retries after a failed attempt.",
			},
		)

		deliveryDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Duration of webhook delivery attempts in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		detachedTaskFailureCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "detached_task_failures_total",
				Help: "Total detached background tasks that failed or panicked.",
			},
		)

		prometheus.MustRegister(
			guardDecisionsCounter,
			rateLimitFailOpenCounter,
			deliveryAttemptsCounter,
			deliveryRetriesCounter,
			deliveryDurationMetric,
			detachedTaskFailureCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, outcome := range []string{
			OutcomeAllowed,
			OutcomeUnauthorized,
			OutcomeForbidden,
			OutcomeRateLimited,
		} {
			guardDecisionsCounter.WithLabelValues(outcome)
		}

		for _, outcome := range []string{DeliverySuccess, DeliveryFailure} {
			deliveryAttemptsCounter.WithLabelValues(outcome)
		}
	})
}

func IncGuardDecision(outcome string) {
	Init()
	guardDecisionsCounter.WithLabelValues(outcome).Inc()
}

func IncRateLimitFailOpen() {
	Init()
	rateLimitFailOpenCounter.Inc()
}

func IncDeliveryAttempt(outcome string) {
	Init()
	deliveryAttemptsCounter.WithLabelValues(outcome).Inc()
}

func IncDeliveryRetries() {
	Init()
	deliveryRetriesCounter.Inc()
}

func ObserveDeliveryDuration(d time.Duration) {
	Init()
	deliveryDurationMetric.Observe(d.Seconds())
}

func IncDetachedTaskFailure() {
	Init()
	detachedTaskFailureCounter.Inc()
}
