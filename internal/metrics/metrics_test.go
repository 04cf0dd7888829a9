package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector() *Collector {
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestNew(t *testing.T) {
	c := newTestCollector()
	assert.NotNil(t, c)
	assert.NotNil(t, c.ScrapeRequestsTotal)
	assert.NotNil(t, c.CircuitBreakerState)
	assert.NotNil(t, c.PaymentAttemptsTotal)
}

func TestRecordScrapeRequest(t *testing.T) {
	c := newTestCollector()
	c.RecordScrapeRequest("profile_info", "success", 250*time.Millisecond)
	c.RecordScrapeRequest("profile_info", "error", 100*time.Millisecond)

	expected := `
		# HELP scrape_requests_total Total number of outbound scrape requests by endpoint and status
		# TYPE scrape_requests_total counter
		scrape_requests_total{endpoint="profile_info",status="error"} 1
		scrape_requests_total{endpoint="profile_info",status="success"} 1
	`
	err := testutil.GatherAndCompare(c.ScrapeRequestsTotal, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestSetCircuitState(t *testing.T) {
	c := newTestCollector()
	c.SetCircuitState("profile_info", 1)

	expected := `
		# HELP circuit_breaker_state Circuit breaker state: 0=closed, 1=open, 2=half_open
		# TYPE circuit_breaker_state gauge
		circuit_breaker_state{endpoint="profile_info"} 1
	`
	err := testutil.GatherAndCompare(c.CircuitBreakerState, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestRecordPaymentAttempt(t *testing.T) {
	c := newTestCollector()
	c.RecordPaymentAttempt("initial", "success", "full", 1990)
	c.RecordPaymentAttempt("recurring", "declined", "full", 1990)

	expectedAttempts := `
		# HELP payment_attempts_total Total number of payment gateway charge attempts by kind and outcome
		# TYPE payment_attempts_total counter
		payment_attempts_total{kind="initial",outcome="success"} 1
		payment_attempts_total{kind="recurring",outcome="declined"} 1
	`
	err := testutil.GatherAndCompare(c.PaymentAttemptsTotal, strings.NewReader(expectedAttempts))
	assert.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(c.PaymentAmountCents))
}

func TestRecordWebhookEvent(t *testing.T) {
	c := newTestCollector()
	c.RecordWebhookEvent("payment_completed", true)
	c.RecordWebhookEvent("payment_completed", false)

	expected := `
		# HELP webhook_events_total Total number of inbound gateway webhook events by type and verification result
		# TYPE webhook_events_total counter
		webhook_events_total{event_type="payment_completed",verified="false"} 1
		webhook_events_total{event_type="payment_completed",verified="true"} 1
	`
	err := testutil.GatherAndCompare(c.WebhookEventsTotal, strings.NewReader(expected))
	assert.NoError(t, err)
}

func TestRecordJobQueuedAndCompleted(t *testing.T) {
	c := newTestCollector()
	c.RecordJobQueued("profile_scrape", 1)
	c.RecordJobCompleted("profile_scrape", "success", 5*time.Second, 0)

	assert.Equal(t, float64(0), testutil.ToFloat64(c.ScrapeQueueDepth))
}
