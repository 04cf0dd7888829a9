package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/credential"
	"github.com/instarelay/instacore/internal/ratelimit"
)

func testConfig() Config {
	return Config{
		MaxConcurrentRequests:   5,
		MaxParallelRequests:     2,
		RequestTimeout:          2 * time.Second,
		ConnectTimeout:          time.Second,
		KeepAlive:               time.Second,
		MetricsWindow:           time.Minute,
		SessionRefreshRatio:     0.5,
		CircuitFailureThreshold: 3,
		CircuitRecoveryTimeout:  50 * time.Millisecond,
	}
}

func testRotator() *credential.Rotator {
	return credential.NewRotator([]credential.Pair{
		{ID: "a", Cookie: "ca", UserAgent: "ua"},
		{ID: "b", Cookie: "cb", UserAgent: "ub"},
	})
}

func noopPacer() *ratelimit.Pacer {
	return ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})
}

func TestClientDoSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(testConfig(), testRotator(), noopPacer(), nil, nil)
	body, err := c.Do(context.Background(), "test_endpoint", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}

	total, success, failed := c.Stats()
	if total == 0 || success == 0 || failed != 0 {
		t.Errorf("unexpected stats: total=%d success=%d failed=%d", total, success, failed)
	}
}

func TestClientDoAllAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testConfig(), testRotator(), noopPacer(), nil, nil)
	_, err := c.Do(context.Background(), "test_endpoint", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected an error when every hedged attempt fails")
	}
}

func TestClientCircuitOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.CircuitFailureThreshold = 1
	c := New(cfg, testRotator(), noopPacer(), nil, nil)

	build := func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	}

	_, _ = c.Do(context.Background(), "flaky_endpoint", build)

	_, err := c.Do(context.Background(), "flaky_endpoint", build)
	if err == nil {
		t.Fatal("expected circuit-open error on second call")
	}
}

// TestClientStaggersHedgedAttempts exercises the §4.1 worked example: with
// request_timeout=3s and parallelism=3, siblings are launched at t≈0,
// t≈0.75s and t≈1.5s rather than all at once.
func TestClientStaggersHedgedAttempts(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Duration
	start := time.Now()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Since(start))
		mu.Unlock()
		// Never respond in time for any attempt to win; the test only
		// cares about hedge launch timing, not the outcome.
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxParallelRequests = 3
	cfg.RequestTimeout = 3 * time.Second

	rotator := credential.NewRotator([]credential.Pair{
		{ID: "a", Cookie: "ca", UserAgent: "ua"},
		{ID: "b", Cookie: "cb", UserAgent: "ub"},
		{ID: "c", Cookie: "cc", UserAgent: "uc"},
	})
	c := New(cfg, rotator, noopPacer(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3500*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, "staggered_endpoint", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected the call to fail since the server never responds in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) < 2 {
		t.Fatalf("expected at least 2 staggered attempts to land, got %d", len(arrivals))
	}
	gap := arrivals[1] - arrivals[0]
	if gap < 500*time.Millisecond || gap > time.Second {
		t.Errorf("expected ~0.75s between the first two hedged attempts, got %v", gap)
	}
}

// TestClientAllHedgeAttemptsTimeOut verifies the §8 boundary behavior:
// when every sibling times out, the call surfaces apperr.KindTimeout.
func TestClientAllHedgeAttemptsTimeOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxParallelRequests = 1
	cfg.RequestTimeout = 100 * time.Millisecond

	c := New(cfg, testRotator(), noopPacer(), nil, nil)
	_, err := c.Do(context.Background(), "slow_endpoint", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if !apperr.Of(err, apperr.KindTimeout) {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}

// TestClientEmptyCredentialPoolIsValidationError covers the §8 boundary
// "empty cookie pool -> fail explicitly with validation kind", without
// spawning any hedge goroutines at all.
func TestClientEmptyCredentialPoolIsValidationError(t *testing.T) {
	c := New(testConfig(), credential.NewRotator(nil), noopPacer(), nil, nil)
	_, err := c.Do(context.Background(), "any_endpoint", func(ctx context.Context, pair *credential.Pair) (*http.Request, error) {
		t.Fatal("build should never be called with an empty credential pool")
		return nil, nil
	})
	if !apperr.Of(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

// TestParallelismDerivedFromLoad exercises the §4.1 load-based derivation:
// below 30% occupancy uses the max, 30-60% drops by one, and 60%+ clamps
// to a single attempt.
func TestParallelismDerivedFromLoad(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 10
	cfg.MaxParallelRequests = 3
	rotator := credential.NewRotator([]credential.Pair{
		{ID: "a", Cookie: "ca", UserAgent: "ua"},
		{ID: "b", Cookie: "cb", UserAgent: "ub"},
		{ID: "c", Cookie: "cc", UserAgent: "uc"},
	})
	c := New(cfg, rotator, noopPacer(), nil, nil)

	fill := func(n int) func() {
		for i := 0; i < n; i++ {
			c.sem <- struct{}{}
		}
		return func() {
			for i := 0; i < n; i++ {
				<-c.sem
			}
		}
	}

	if got := c.parallelism(); got != 3 {
		t.Errorf("expected max parallelism 3 at 0%% load, got %d", got)
	}

	release := fill(4) // 40% of 10 slots
	if got := c.parallelism(); got != 2 {
		t.Errorf("expected parallelism 2 (max-1) at 40%% load, got %d", got)
	}
	release()

	release = fill(7) // 70% of 10 slots
	if got := c.parallelism(); got != 1 {
		t.Errorf("expected parallelism 1 at 70%% load, got %d", got)
	}
	release()
}
