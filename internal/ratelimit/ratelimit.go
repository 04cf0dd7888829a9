// Package ratelimit paces outbound scrape requests: a token-bucket limiter
// caps sustained throughput and a jittered sleep spreads request timing so
// traffic doesn't look machine-regular.
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Config controls the bucket rate and the jitter/extra-delay envelope
// around each request.
type Config struct {
	RequestsPerSecond float64
	Burst             int

	BaseDelay    time.Duration
	JitterMax    float64       // fraction of BaseDelay added as jitter, e.g. 1.0 == up to +100%
	ExtraDelayMin time.Duration
	ExtraDelayMax time.Duration
}

// DefaultConfig mirrors the tunables a scraper deployment starts with
// before any per-endpoint tuning.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2,
		Burst:             1,
		BaseDelay:         500 * time.Millisecond,
		JitterMax:         1.0,
		ExtraDelayMin:     0,
		ExtraDelayMax:     750 * time.Millisecond,
	}
}

// Pacer combines a token bucket with a jittered sleep. Wait blocks until
// both the bucket admits the request and the jittered pause elapses.
type Pacer struct {
	cfg     Config
	limiter *rate.Limiter
}

// New creates a Pacer from cfg.
func New(cfg Config) *Pacer {
	return &Pacer{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Wait blocks for the token bucket, then sleeps a jittered delay on top.
// It returns ctx.Err() if ctx is canceled while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	delay := p.jitteredDelay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitteredDelay returns BaseDelay scaled by a random factor in
// [1, 1+JitterMax), plus an independent uniform extra delay in
// [ExtraDelayMin, ExtraDelayMax]. Each call produces an independent value;
// callers should not cache it.
func (p *Pacer) jitteredDelay() time.Duration {
	base := p.cfg.BaseDelay
	if p.cfg.JitterMax > 0 {
		jitterFactor := 1 + rand.Float64()*p.cfg.JitterMax
		base = time.Duration(float64(base) * jitterFactor)
	}

	extraRange := p.cfg.ExtraDelayMax - p.cfg.ExtraDelayMin
	if extraRange > 0 {
		base += p.cfg.ExtraDelayMin + time.Duration(rand.Int63n(int64(extraRange)))
	} else if p.cfg.ExtraDelayMin > 0 {
		base += p.cfg.ExtraDelayMin
	}

	return base
}

// SetRate adjusts the token bucket's sustained rate and burst at runtime,
// used when a caller wants to slow down after repeated failures.
func (p *Pacer) SetRate(requestsPerSecond float64, burst int) {
	p.limiter.SetLimit(rate.Limit(requestsPerSecond))
	p.limiter.SetBurst(burst)
}
