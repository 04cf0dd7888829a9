// Package scheduler runs the two background tick loops that drive
// subscriptions and notifications forward without an inbound request:
// the recurring-payments sweep (§4.11) and the notification delivery
// loop (§4.12). Both follow the start/stop shape the teacher uses for
// its own background workers (ctx/cancel/wg/started/mu), ticking on a
// stdlib time.Ticker instead of a channel-based job queue since there
// is no inbound work to queue, only a clock to watch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/logger"
)

// SubscriptionStore is the slice of *database.DB the payments sweep needs.
type SubscriptionStore interface {
	ListDueRecurrent(now time.Time) ([]*database.SubscriptionHistory, error)
	ListPausedEligibleForResume(now time.Time) ([]*database.SubscriptionHistory, error)
	UpdateSubscription(s *database.SubscriptionHistory) error
}

// ChargeAttempter is the payment.Service capability the sweep drives.
// downgraded reports whether AttemptRecurrentCharge moved the
// subscription to DowngradeCascade (possibly terminating it); the sweep
// uses that to decide whether to retry the charge in the same tick.
type ChargeAttempter interface {
	AttemptRecurrentCharge(ctx context.Context, sub *database.SubscriptionHistory) (downgraded bool, err error)
}

// PaymentsScheduler runs the §4.11 recurring-charge sweep once per
// consts.PaymentsTickPeriod.
type PaymentsScheduler struct {
	store    SubscriptionStore
	payments ChargeAttempter
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPaymentsScheduler builds a PaymentsScheduler. It is not started
// until Run.
func NewPaymentsScheduler(store SubscriptionStore, payments ChargeAttempter) *PaymentsScheduler {
	return &PaymentsScheduler{store: store, payments: payments, interval: consts.PaymentsTickPeriod}
}

// Run starts the tick loop. Calling Run twice is a no-op.
func (s *PaymentsScheduler) Run(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (s *PaymentsScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *PaymentsScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep: resume-eligible paused subscriptions first (so a
// resumed plan is immediately eligible for its due charge in the same
// tick), then every due-recurrent subscription (§4.11 steps 1-2).
func (s *PaymentsScheduler) tick(ctx context.Context) {
	now := time.Now()

	paused, err := s.store.ListPausedEligibleForResume(now)
	if err != nil {
		logger.Warn("failed to list paused-eligible subscriptions", map[string]interface{}{"error": err.Error()})
	}
	for _, sub := range paused {
		s.resumeThenCharge(ctx, sub)
	}

	due, err := s.store.ListDueRecurrent(now)
	if err != nil {
		logger.Warn("failed to list due recurrent subscriptions", map[string]interface{}{"error": err.Error()})
	}
	for _, sub := range due {
		s.chargeWithDowngrades(ctx, sub)
	}
}

// resumeThenCharge reactivates a paused subscription whose 7-day window
// has elapsed and immediately attempts its charge in the same tick
// (§4.11 step 2).
func (s *PaymentsScheduler) resumeThenCharge(ctx context.Context, sub *database.SubscriptionHistory) {
	sub.Status = consts.SubscriptionActive
	sub.AutoRenewal = true
	sub.FailedAttempts = 0
	now := time.Now()
	sub.NextPaymentDate = &now

	if err := s.store.UpdateSubscription(sub); err != nil {
		logger.Warn("failed to resume paused subscription", map[string]interface{}{"subscription_id": sub.ID, "error": err.Error()})
		return
	}
	s.chargeWithDowngrades(ctx, sub)
}

// chargeWithDowngrades attempts the due charge, retrying immediately
// whenever AttemptRecurrentCharge reports a downgrade (a new, cheaper
// tariff is due right away), bounded by consts.MaxDowngradeDepth so a
// pathological chain can't spin forever within one tick.
func (s *PaymentsScheduler) chargeWithDowngrades(ctx context.Context, sub *database.SubscriptionHistory) {
	for depth := 0; depth < consts.MaxDowngradeDepth; depth++ {
		downgraded, err := s.payments.AttemptRecurrentCharge(ctx, sub)
		if err != nil {
			logger.Warn("recurrent charge attempt failed", map[string]interface{}{"subscription_id": sub.ID, "depth": depth, "error": err.Error()})
			return
		}
		if !downgraded || sub.Status == consts.SubscriptionCancelled {
			return
		}
	}

	logger.Warn("downgrade cascade exceeded max depth, cancelling subscription", map[string]interface{}{"subscription_id": sub.ID})
	sub.Status = consts.SubscriptionCancelled
	sub.AutoRenewal = false
	if err := s.store.UpdateSubscription(sub); err != nil {
		logger.Warn("failed to cancel subscription after max downgrade depth", map[string]interface{}{"subscription_id": sub.ID, "error": err.Error()})
	}
}
