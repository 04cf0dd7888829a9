// Package consts holds the module-wide constants for tariffs, parsing
// states and downgrade ordering that several packages need to agree on.
package consts

import "time"

// Parsing states for InstagramProfile.ParseState.
const (
	ParseStatePending    = "pending"
	ParseStateProcessing = "processing"
	ParseStateCompleted  = "completed"
	ParseStateFailed     = "failed"
)

// Task status values exposed by the parse task status API (C14).
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusNotFound   = "not_found"
)

// InstagramFollower.Kind values.
const (
	FollowerKind  = "follower"
	FollowingKind = "following"
)

// SubscriptionHistory.Status values.
const (
	SubscriptionActive    = "active"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Payment.Status values.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Gateway notification statuses, as reported by the payment gateway webhook.
const (
	GatewayCompleted = "Completed"
	GatewayDeclined  = "Declined"
)

// Well-known tariff names. Tariff rows are otherwise data, but the
// lifecycle logic (demo upgrade, downgrade cascade) needs to address a few
// of them by name.
const (
	TariffDemo      = "Demo"
	TariffExclusive = "Exclusive"
	TariffDaily     = "Daily"
	TariffFull      = "Full"
	TariffEco       = "Eco"
)

// DowngradeChain is the closed downgrade map from §4.10: each entry names
// the tariff a user falls to after exhausting retries on the key tariff.
// A tariff absent from the map (or mapping to "") terminates the cascade.
var DowngradeChain = map[string]string{
	TariffExclusive: TariffDaily,
	TariffDaily:     TariffFull,
	TariffFull:      TariffEco,
	TariffEco:       TariffDemo,
	TariffDemo:      "",
}

// NextDowngrade returns the tariff name to fall to, and whether the chain
// has a successor at all.
func NextDowngrade(tariff string) (string, bool) {
	next, ok := DowngradeChain[tariff]
	if !ok || next == "" {
		return "", false
	}
	return next, true
}

// Demo→paid recurring plan timings (§4.10).
const (
	DemoRecurringAmount       = 999
	DemoRecurringPeriodDays   = 10
	DemoFirstChargeDelay      = 24 * time.Hour
	RecurringFirstChargeDelay = DemoRecurringPeriodDays * 24 * time.Hour
)

// Scheduler and cache defaults (§4.6, §4.8, §4.11, §4.12, §4.14).
const (
	ProfileFreshnessTTL     = 24 * time.Hour
	TaskStatusTTL           = time.Hour
	TaskStatusSweepPeriod   = 5 * time.Minute
	PaymentsTickPeriod      = 60 * time.Second
	NotificationsTickPeriod = 60 * time.Second
	PauseResumeWindow       = 7 * 24 * time.Hour
	MaxDowngradeDepth       = 5
	MaxNotificationRetries  = 3
	MaxMutualAvatars        = 20
	MaxCollectedComments    = 5
	MaxScrapedMedia         = 12
	BlobCleanupSweepPeriod  = 24 * time.Hour
)

// NotificationOffsets are the five scheduled-notification delays fired
// after a user's first profile parse (§4.12). The first offset is itself
// randomized between 5 and 10 minutes by the caller; the rest are fixed.
var NotificationOffsets = []time.Duration{
	0, // placeholder for the randomized 5-10m offset, filled in by caller
	2 * time.Hour,
	48 * time.Hour,
	72 * time.Hour,
	96 * time.Hour,
}
