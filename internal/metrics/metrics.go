// Package metrics exposes the Prometheus counters/gauges/histograms the
// core's components record against: scrape requests (C1), circuit breaker
// state (C2), scrape jobs (C5/C6), payment attempts (C9/C10) and the
// recurring-payments sweep (C11).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every metric the core records. One instance is built at
// startup and passed by reference to the components that need it, the
// same way the teacher wires its collector into command handlers.
type Collector struct {
	ScrapeRequestsTotal    *prometheus.CounterVec
	ScrapeRequestDuration  *prometheus.HistogramVec
	ScrapeSuccessRatio     *prometheus.GaugeVec
	SessionRefreshesTotal  *prometheus.CounterVec

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTripsTotal  *prometheus.CounterVec

	ScrapeJobsQueuedTotal    *prometheus.CounterVec
	ScrapeJobsCompletedTotal *prometheus.CounterVec
	ScrapeQueueDepth         prometheus.Gauge
	ScrapeJobDuration        *prometheus.HistogramVec

	PaymentAttemptsTotal   *prometheus.CounterVec
	PaymentAmountCents     *prometheus.HistogramVec
	WebhookEventsTotal     *prometheus.CounterVec

	RecurringChargesTotal   *prometheus.CounterVec
	DowngradesTotal         *prometheus.CounterVec
	NotificationsSentTotal  *prometheus.CounterVec
}

// New creates a Collector registered against the default global registry.
func New() *Collector {
	return NewWithRegistry(nil)
}

// NewWithRegistry creates a Collector against a custom registry, or the
// default one if registry is nil (tests use a private registry to avoid
// collisions between parallel test binaries).
func NewWithRegistry(registry *prometheus.Registry) *Collector {
	var factory promauto.Factory
	if registry == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	} else {
		factory = promauto.With(registry)
	}

	return &Collector{
		ScrapeRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_requests_total",
				Help: "Total number of outbound scrape requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		ScrapeRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_request_duration_seconds",
				Help:    "Time spent on a single scrape request attempt",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"endpoint", "status"},
		),
		ScrapeSuccessRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scrape_success_ratio",
				Help: "Rolling success ratio over the configured metrics window",
			},
			[]string{"endpoint"},
		),
		SessionRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_refreshes_total",
				Help: "Total number of credential/session refreshes triggered by low success rate",
			},
			[]string{"reason"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state: 0=closed, 1=open, 2=half_open",
			},
			[]string{"endpoint"},
		),
		CircuitBreakerTripsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_trips_total",
				Help: "Total number of times the circuit breaker opened",
			},
			[]string{"endpoint"},
		),

		ScrapeJobsQueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_queued_total",
				Help: "Total number of scrape jobs enqueued by job type",
			},
			[]string{"job_type"},
		),
		ScrapeJobsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_completed_total",
				Help: "Total number of scrape jobs completed by job type and outcome",
			},
			[]string{"job_type", "outcome"},
		),
		ScrapeQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_queue_depth",
				Help: "Current depth of the scrape job queue",
			},
		),
		ScrapeJobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scrape_job_duration_seconds",
				Help:    "Time spent processing a scrape job end to end",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"job_type"},
		),

		PaymentAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_attempts_total",
				Help: "Total number of payment gateway charge attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PaymentAmountCents: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_amount_cents",
				Help:    "Distribution of charged amounts in cents",
				Buckets: []float64{0, 100, 500, 1000, 2500, 5000, 10000, 25000},
			},
			[]string{"tariff"},
		),
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of inbound gateway webhook events by type and verification result",
			},
			[]string{"event_type", "verified"},
		),

		RecurringChargesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recurring_charges_total",
				Help: "Total number of recurring charge attempts by outcome",
			},
			[]string{"outcome"},
		),
		DowngradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "downgrades_total",
				Help: "Total number of tariff downgrades by source and destination tariff",
			},
			[]string{"from", "to"},
		),
		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of notifications delivered by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// RecordScrapeRequest records one outbound request attempt.
func (c *Collector) RecordScrapeRequest(endpoint, status string, duration time.Duration) {
	c.ScrapeRequestsTotal.WithLabelValues(endpoint, status).Inc()
	c.ScrapeRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// SetCircuitState reports the breaker's current state as a gauge value.
func (c *Collector) SetCircuitState(endpoint string, state int) {
	c.CircuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordCircuitTrip increments the trip counter when the breaker opens.
func (c *Collector) RecordCircuitTrip(endpoint string) {
	c.CircuitBreakerTripsTotal.WithLabelValues(endpoint).Inc()
}

// RecordJobQueued increments the queued-jobs counter and sets queue depth.
func (c *Collector) RecordJobQueued(jobType string, depth int) {
	c.ScrapeJobsQueuedTotal.WithLabelValues(jobType).Inc()
	c.ScrapeQueueDepth.Set(float64(depth))
}

// RecordJobCompleted records a finished job's outcome and duration, and
// updates queue depth after it leaves the queue.
func (c *Collector) RecordJobCompleted(jobType, outcome string, duration time.Duration, depth int) {
	c.ScrapeJobsCompletedTotal.WithLabelValues(jobType, outcome).Inc()
	c.ScrapeJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	c.ScrapeQueueDepth.Set(float64(depth))
}

// RecordPaymentAttempt records a gateway charge attempt outcome and, on
// success, the charged amount bucketed by tariff.
func (c *Collector) RecordPaymentAttempt(kind, outcome, tariff string, amountCents int64) {
	c.PaymentAttemptsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "success" {
		c.PaymentAmountCents.WithLabelValues(tariff).Observe(float64(amountCents))
	}
}

// RecordWebhookEvent records an inbound webhook and whether its HMAC
// verified.
func (c *Collector) RecordWebhookEvent(eventType string, verified bool) {
	c.WebhookEventsTotal.WithLabelValues(eventType, boolLabel(verified)).Inc()
}

// RecordRecurringCharge records one scheduler sweep attempt outcome.
func (c *Collector) RecordRecurringCharge(outcome string) {
	c.RecurringChargesTotal.WithLabelValues(outcome).Inc()
}

// RecordDowngrade records a tariff downgrade transition.
func (c *Collector) RecordDowngrade(from, to string) {
	c.DowngradesTotal.WithLabelValues(from, to).Inc()
}

// RecordNotificationSent records a notification delivery attempt outcome.
func (c *Collector) RecordNotificationSent(notifType, outcome string) {
	c.NotificationsSentTotal.WithLabelValues(notifType, outcome).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
