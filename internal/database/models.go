package database

import (
	"encoding/json"
	"time"
)

// User is a stable account identity (§3). CurrentTariffID/subscription window are
// nullable because a user may never have paid.
type User struct {
	ID                int64      `db:"id" json:"id"`
	ExternalID        string     `db:"external_id" json:"external_id"` // opaque caller-supplied identifier, unique
	CurrentTariffID   *int64     `db:"current_tariff_id" json:"current_tariff_id,omitempty"`
	IsPaid            bool       `db:"is_paid" json:"is_paid"`
	SubscriptionStart *time.Time `db:"subscription_start" json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `db:"subscription_end" json:"subscription_end,omitempty"`
	RemainingRequests *int64     `db:"remaining_requests" json:"remaining_requests,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Tariff is an immutable price/duration descriptor (§3).
type Tariff struct {
	ID           int64   `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	PriceCents   int64   `db:"price_cents" json:"price_cents"`
	DurationDays *int64  `db:"duration_days" json:"duration_days,omitempty"`
	QuotaCount   *int64  `db:"quota_count" json:"quota_count,omitempty"`
	IsDemo       bool    `db:"is_demo" json:"is_demo"`
	AutoRenewal  bool    `db:"auto_renewal" json:"auto_renewal"`
	NextTariffID *int64  `db:"next_tariff_id" json:"next_tariff_id,omitempty"`
}

// InstagramProfile is the per-username snapshot (§3). Username is always
// stored lowercased; callers normalize before every lookup.
type InstagramProfile struct {
	ID                 int64      `db:"id" json:"id"`
	Username           string     `db:"username" json:"username"`
	InstagramUserID    string     `db:"instagram_user_id" json:"instagram_user_id"`
	FollowerCount      int64      `db:"follower_count" json:"follower_count"`
	FollowingCount     int64      `db:"following_count" json:"following_count"`
	MediaCount         int64      `db:"media_count" json:"media_count"`
	IsVerified         bool       `db:"is_verified" json:"is_verified"`
	IsPrivate          bool       `db:"is_private" json:"is_private"`
	IsBusiness         bool       `db:"is_business" json:"is_business"`
	Bio                string     `db:"bio" json:"bio"`
	AnalyticsJSON      string     `db:"analytics_json" json:"analytics_json"`
	PostsJSON          string     `db:"posts_json" json:"posts_json"`
	CommentsJSON       string     `db:"comments_json" json:"comments_json"`
	AvatarLocalPath    string     `db:"avatar_local_path" json:"avatar_local_path"`
	ParseState         string     `db:"parse_state" json:"parse_state"`
	ParseTaskID        string     `db:"parse_task_id" json:"parse_task_id"`
	ParseError         string     `db:"parse_error" json:"parse_error"`
	LastScraped        *time.Time `db:"last_scraped" json:"last_scraped,omitempty"`
	FollowersParsedAt  *time.Time `db:"followers_parsed_at" json:"followers_parsed_at,omitempty"`
	FollowingsParsedAt *time.Time `db:"followings_parsed_at" json:"followings_parsed_at,omitempty"`
	ScrapeCount        int64      `db:"scrape_count" json:"scrape_count"`
	IsDataFresh        bool       `db:"is_data_fresh" json:"is_data_fresh"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// RecentMedia is one entry of InstagramProfile's posts summary (§4.5).
type RecentMedia struct {
	Shortcode         string `json:"shortcode"`
	PK                string `json:"pk"`
	IsVideo           bool   `json:"is_video"`
	TakenAt           int64  `json:"taken_at"`
	CommentsDisabled  bool   `json:"comments_disabled"`
	CommentCount      int64  `json:"comment_count"`
	ImageURL          string `json:"image_url,omitempty"`
}

func (p *InstagramProfile) DecodePosts() ([]RecentMedia, error) {
	if p.PostsJSON == "" {
		return nil, nil
	}
	var out []RecentMedia
	if err := json.Unmarshal([]byte(p.PostsJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *InstagramProfile) EncodePosts(media []RecentMedia) error {
	data, err := json.Marshal(media)
	if err != nil {
		return err
	}
	p.PostsJSON = string(data)
	return nil
}

// InstagramFollower is a child row of a profile (§3), unique per
// (profile_id, follower_pk).
type InstagramFollower struct {
	ID              int64     `db:"id" json:"id"`
	ProfileID       int64     `db:"profile_id" json:"profile_id"`
	FollowerPK      string    `db:"follower_pk" json:"follower_pk"`
	Username        string    `db:"username" json:"username"`
	FullName        string    `db:"full_name" json:"full_name"`
	IsPrivate       bool      `db:"is_private" json:"is_private"`
	IsVerified      bool      `db:"is_verified" json:"is_verified"`
	AvatarURL       string    `db:"avatar_url" json:"avatar_url"`
	AvatarLocalPath string    `db:"avatar_local_path" json:"avatar_local_path,omitempty"`
	Kind            string    `db:"kind" json:"kind"` // "follower" or "following", for bookkeeping only
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Payment is an immutable audit row per charge attempt (§3).
type Payment struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	TariffID         *int64    `db:"tariff_id" json:"tariff_id,omitempty"`
	SubscriptionID   *int64    `db:"subscription_id" json:"subscription_id,omitempty"`
	Status           string    `db:"status" json:"status"`
	AmountCents      int64     `db:"amount_cents" json:"amount_cents"`
	Currency         string    `db:"currency" json:"currency"`
	Method           string    `db:"method" json:"method"`
	ExternalTxnID    string    `db:"external_txn_id" json:"external_txn_id"`
	CardToken        string    `db:"card_token" json:"card_token,omitempty"`
	CardType         string    `db:"card_type" json:"card_type,omitempty"`
	LastFour         string    `db:"last_four" json:"last_four,omitempty"`
	IsRecurrent      bool      `db:"is_recurrent" json:"is_recurrent"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// SubscriptionHistory is one subscription episode for (user, tariff) (§3).
type SubscriptionHistory struct {
	ID                     int64      `db:"id" json:"id"`
	UserID                 int64      `db:"user_id" json:"user_id"`
	TariffID               int64      `db:"tariff_id" json:"tariff_id"`
	OriginalTariffID       *int64     `db:"original_tariff_id" json:"original_tariff_id,omitempty"`
	Start                  time.Time  `db:"start" json:"start"`
	End                    *time.Time `db:"end" json:"end,omitempty"`
	Status                 string     `db:"status" json:"status"`
	AutoRenewal            bool       `db:"auto_renewal" json:"auto_renewal"`
	GatewaySubscriptionID  string     `db:"gateway_subscription_id" json:"gateway_subscription_id,omitempty"`
	CardToken              string     `db:"card_token" json:"card_token,omitempty"`
	FailedAttempts         int        `db:"failed_attempts" json:"failed_attempts"`
	LastPaymentAttempt     *time.Time `db:"last_payment_attempt" json:"last_payment_attempt,omitempty"`
	PausedAt               *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	NextPaymentDate        *time.Time `db:"next_payment_date" json:"next_payment_date,omitempty"`
	DowngradeAttempts      int        `db:"downgrade_attempts" json:"downgrade_attempts"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActiveOrPaused reports whether this row counts toward the "at most one
// active-or-paused subscription per user" invariant (§3, §8).
func (s *SubscriptionHistory) IsActiveOrPaused() bool {
	return s.Status == "active" || s.Status == "paused"
}

// UserActivity is an append-only activity-log row (§3).
type UserActivity struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	ActivityType string    `db:"activity_type" json:"activity_type"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	ExtraJSON    string    `db:"extra_json" json:"extra_json,omitempty"`
}

// NotificationSchedule is a scheduled, retriable notification (§3).
type NotificationSchedule struct {
	ID            int64      `db:"id" json:"id"`
	UserID        int64      `db:"user_id" json:"user_id"`
	Type          string     `db:"type" json:"type"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Sent          bool       `db:"sent" json:"sent"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	Message       string     `db:"message" json:"message"`
	ButtonText    string     `db:"button_text" json:"button_text,omitempty"`
	ButtonURL     string     `db:"button_url" json:"button_url,omitempty"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// ProxyResource is the optional proxy-pool extension mentioned in §4.3;
// it sits alongside the credential rotator but is only consulted when
// proxy rotation is enabled.
type ProxyResource struct {
	ID         string    `db:"id" json:"id"`
	ProxyURL   string    `db:"proxy_url" json:"proxy_url"`
	Cookie     string    `db:"cookie" json:"cookie"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	UsageCount int64     `db:"usage_count" json:"usage_count"`
	LastUsedAt time.Time `db:"last_used_at" json:"last_used_at"`
}

// UsageLog is the optional per-call usage-accounting extension (§3).
type UsageLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Operation string    `db:"operation" json:"operation"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
