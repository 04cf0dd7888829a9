// Package httpclient is the resilient outbound HTTP client the scraper
// uses for every Instagram request: it hedges each logical request across
// up to MaxParallelRequests physical attempts with distinct credentials,
// bounds total in-flight requests with a semaphore, tracks a rolling
// success ratio with atomic counters, and signals the credential layer to
// refresh a session once that ratio degrades. Grounded on the resilient
// client shape in other_examples' Davincible-xapi client (rate limiter +
// metrics struct + mutex-guarded state) generalized from single-request
// retries to parallel hedged attempts, combined with the teacher's
// defensive request-building style in internal/github.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/circuitbreaker"
	"github.com/instarelay/instacore/internal/credential"
	"github.com/instarelay/instacore/internal/logger"
	"github.com/instarelay/instacore/internal/metrics"
	"github.com/instarelay/instacore/internal/ratelimit"
)

// Config controls concurrency, timeouts and the session-refresh threshold.
type Config struct {
	MaxConcurrentRequests int // semaphore size across all endpoints
	MaxParallelRequests   int // hedged attempts launched per logical request
	RequestTimeout        time.Duration
	ConnectTimeout        time.Duration
	KeepAlive             time.Duration

	MetricsWindow          time.Duration // rolling window for success-ratio tracking
	SessionRefreshRatio    float64       // refresh session if rolling success ratio drops below this

	CircuitFailureThreshold int
	CircuitRecoveryTimeout  time.Duration
}

// SessionRefresher is implemented by the credential layer so the client
// can ask for a fresh cookie/user-agent pair when the rolling success
// ratio degrades, without importing the credential package's full API.
type SessionRefresher interface {
	RefreshSession(ctx context.Context, pairID string) error
}

// RequestBuilder builds one physical HTTP request bound to a specific
// credential pair. It is invoked once per hedged attempt.
type RequestBuilder func(ctx context.Context, pair *credential.Pair) (*http.Request, error)

// Client is the shared resilient HTTP client.
type Client struct {
	cfg     Config
	http    *http.Client
	sem     chan struct{}
	rotator *credential.Rotator
	pacer   *ratelimit.Pacer
	metrics *metrics.Collector

	breakers   sync.Map // endpoint -> *circuitbreaker.Breaker
	refresher  SessionRefresher

	windowMu      sync.Mutex
	windowStart   time.Time
	windowTotal   int64
	windowSuccess int64

	totalRequests   int64
	successRequests int64
	failedRequests  int64
}

// New builds a Client. rotator supplies credential pairs; refresher may be
// nil if session refresh isn't wired (the client just stops refreshing and
// relies on the circuit breaker + rotator disabling alone).
func New(cfg Config, rotator *credential.Rotator, pacer *ratelimit.Pacer, collector *metrics.Collector, refresher SessionRefresher) *Client {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 10
	}
	if cfg.MaxParallelRequests <= 0 {
		cfg.MaxParallelRequests = 3
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.ConnectTimeout,
					KeepAlive: cfg.KeepAlive,
				}).DialContext,
			},
		},
		sem:         make(chan struct{}, cfg.MaxConcurrentRequests),
		rotator:     rotator,
		pacer:       pacer,
		metrics:     collector,
		refresher:   refresher,
		windowStart: time.Now(),
	}
}

type attemptResult struct {
	resp *http.Response
	body []byte
	err  error
}

// Do performs one logical request against endpoint: up to parallelism
// physical attempts are staggered at request_timeout/(parallelism+1)
// intervals, each bound to a distinct credential pair, and the first
// successful response wins while the rest are canceled. If every attempt
// fails, the most informative error wins (a real HTTP-layer error over a
// timeout); if every attempt times out, the call surfaces KindTimeout.
func (c *Client) Do(ctx context.Context, endpoint string, build RequestBuilder) ([]byte, error) {
	breaker := c.breakerFor(endpoint)
	if !breaker.Allow() {
		return nil, apperr.New(apperr.KindCircuitOpen, fmt.Sprintf("circuit open for %s", endpoint), nil)
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if c.rotator.EnabledCount() == 0 {
		return nil, apperr.New(apperr.KindValidation, "no enabled credential pairs", nil)
	}

	attempts := c.parallelism()

	// hedgeCtx carries one absolute deadline, request_timeout out from
	// now, shared by every staggered sibling — matching §4.1's worked
	// example where the whole call (not each individually-launched
	// sibling) times out at t≈request_timeout.
	hedgeCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	stagger := c.cfg.RequestTimeout / time.Duration(attempts+1)

	results := make(chan attemptResult, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		pair, ok := c.rotator.Next()
		if !ok {
			break
		}
		delay := time.Duration(i) * stagger
		wg.Add(1)
		go func(pair *credential.Pair, delay time.Duration) {
			defer wg.Done()
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-hedgeCtx.Done():
					results <- attemptResult{err: classifyContextErr(hedgeCtx.Err())}
					return
				}
			}
			results <- c.attempt(hedgeCtx, endpoint, build, pair)
		}(pair, delay)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	timedOutSiblings := 0
	attemptCount := 0
	for res := range results {
		attemptCount++
		if res.err == nil {
			cancel() // cancel the remaining losers
			breaker.RecordSuccess()
			c.recordOutcome(endpoint, true)
			return res.body, nil
		}
		if apperr.Of(res.err, apperr.KindTimeout) {
			timedOutSiblings++
		}
		lastErr = preferError(lastErr, res.err)
	}

	breaker.RecordFailure()
	c.recordOutcome(endpoint, false)
	c.maybeRefreshSession(ctx)

	if attemptCount > 0 && timedOutSiblings == attemptCount {
		return nil, apperr.New(apperr.KindTimeout, "all hedged attempts timed out", lastErr)
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.KindConnection, "all hedged attempts failed", nil)
	}
	return nil, lastErr
}

// parallelism derives the hedge fan-out from current semaphore occupancy
// per §4.1: below 30% slots used, use the configured maximum; 30-60%,
// one fewer; at or above 60%, a single attempt. The result is further
// clipped to the number of enabled credential pairs.
func (c *Client) parallelism() int {
	maxAttempts := c.cfg.MaxParallelRequests

	occupied := len(c.sem)
	capacity := cap(c.sem)
	attempts := maxAttempts
	if capacity > 0 {
		load := float64(occupied) / float64(capacity)
		switch {
		case load >= 0.6:
			attempts = 1
		case load >= 0.3:
			attempts = maxAttempts - 1
		default:
			attempts = maxAttempts
		}
	}

	if attempts < 1 {
		attempts = 1
	}
	if enabled := c.rotator.EnabledCount(); attempts > enabled {
		attempts = enabled
	}
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// preferError keeps the most informative of two hedge-sibling errors: a
// real HTTP-layer error outranks a bare timeout (§4.1 "prefer HTTP
// response errors over timeouts").
func preferError(current, candidate error) error {
	if current == nil {
		return candidate
	}
	if apperr.Of(current, apperr.KindTimeout) && !apperr.Of(candidate, apperr.KindTimeout) {
		return candidate
	}
	return current
}

// attempt runs one physical request under ctx, whose deadline is the
// shared hedge deadline set by Do — a sibling launched late into the
// window still shares the same absolute cutoff as one launched at t=0.
func (c *Client) attempt(ctx context.Context, endpoint string, build RequestBuilder, pair *credential.Pair) attemptResult {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return attemptResult{err: classifyContextErr(ctx.Err())}
	}

	start := time.Now()
	req, err := build(ctx, pair)
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to build request: %w", err)}
	}

	resp, err := c.http.Do(req)
	duration := time.Since(start)

	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordScrapeRequest(endpoint, "error", duration)
		}
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return attemptResult{err: apperr.New(apperr.KindTimeout, "request timed out", err)}
		}
		if ctx.Err() != nil {
			return attemptResult{err: classifyContextErr(ctx.Err())}
		}
		return attemptResult{err: apperr.New(apperr.KindConnection, "request failed", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return attemptResult{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	status := classifyStatus(resp.StatusCode)
	if c.metrics != nil {
		c.metrics.RecordScrapeRequest(endpoint, status, duration)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return attemptResult{err: apperr.New(apperr.KindRateLimited, "rate limited", nil)}
	case resp.StatusCode >= 500:
		return attemptResult{err: apperr.New(apperr.KindServerError, fmt.Sprintf("server error %d", resp.StatusCode), nil)}
	case resp.StatusCode >= 400:
		return attemptResult{err: apperr.New(apperr.KindClientError, fmt.Sprintf("client error %d", resp.StatusCode), nil)}
	}

	return attemptResult{resp: resp, body: body}
}

// classifyContextErr maps the shared hedge context's terminal error to a
// Kind: its deadline expiring is a timeout, while an early cancellation
// (a sibling already won) is a plain connection-level abort.
func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.New(apperr.KindTimeout, "request timed out", err)
	}
	return apperr.New(apperr.KindConnection, "request cancelled", err)
}

func classifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 500:
		return "server_error"
	case code >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}

func (c *Client) breakerFor(endpoint string) *circuitbreaker.Breaker {
	if b, ok := c.breakers.Load(endpoint); ok {
		return b.(*circuitbreaker.Breaker)
	}
	b := circuitbreaker.New(c.cfg.CircuitFailureThreshold, c.cfg.CircuitRecoveryTimeout)
	actual, _ := c.breakers.LoadOrStore(endpoint, b)
	return actual.(*circuitbreaker.Breaker)
}

// recordOutcome updates both the lifetime counters and the rolling window
// used to decide whether a session refresh is warranted.
func (c *Client) recordOutcome(endpoint string, success bool) {
	atomic.AddInt64(&c.totalRequests, 1)
	if success {
		atomic.AddInt64(&c.successRequests, 1)
	} else {
		atomic.AddInt64(&c.failedRequests, 1)
	}

	c.windowMu.Lock()
	defer c.windowMu.Unlock()

	if time.Since(c.windowStart) > c.cfg.MetricsWindow {
		c.windowStart = time.Now()
		c.windowTotal = 0
		c.windowSuccess = 0
	}
	c.windowTotal++
	if success {
		c.windowSuccess++
	}
}

// maybeRefreshSession asks the refresher for a new session when the
// rolling success ratio over the configured window drops below
// SessionRefreshRatio (§4.1).
func (c *Client) maybeRefreshSession(ctx context.Context) {
	if c.refresher == nil {
		return
	}

	c.windowMu.Lock()
	total, success := c.windowTotal, c.windowSuccess
	c.windowMu.Unlock()

	if total < 5 {
		return // not enough samples yet
	}

	ratio := float64(success) / float64(total)
	if ratio >= c.cfg.SessionRefreshRatio {
		return
	}

	pair, ok := c.rotator.Next()
	if !ok {
		return
	}

	if err := c.refresher.RefreshSession(ctx, pair.ID); err != nil {
		logger.Error("session refresh failed", map[string]interface{}{"pair_id": pair.ID, "error": err.Error()})
		return
	}
	if c.metrics != nil {
		c.metrics.SessionRefreshesTotal.WithLabelValues("low_success_ratio").Inc()
	}
}

// Stats reports lifetime totals, used by health endpoints and tests.
func (c *Client) Stats() (total, success, failed int64) {
	return atomic.LoadInt64(&c.totalRequests), atomic.LoadInt64(&c.successRequests), atomic.LoadInt64(&c.failedRequests)
}
