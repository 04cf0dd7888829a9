// Package api is the thin inbound façade named in §6: one method per
// external operation, composing the queue, profile cache, payment and
// notification services. No HTTP router lives here — wiring these
// methods onto a concrete transport is left to the caller, the same way
// the teacher keeps its Telegram update routing and its service logic
// in separate files.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/logger"
	"github.com/instarelay/instacore/internal/payment"
	"github.com/instarelay/instacore/internal/queue"
	"github.com/instarelay/instacore/internal/scraper"
)

// UserStore is the subset of *database.DB the façade needs for identity
// resolution (§3 User).
type UserStore interface {
	GetOrCreateUser(externalID string) (*database.User, error)
	GetUserByID(id int64) (*database.User, error)
}

// SubscriptionStore backs subscription_status (§6).
type SubscriptionStore interface {
	GetActiveOrPausedSubscription(userID int64) (*database.SubscriptionHistory, error)
}

// TariffStore resolves the tariff named by a purchase request.
type TariffStore interface {
	GetTariffByName(name string) (*database.Tariff, error)
}

// FollowerStore serves persisted follower/following rows once a deep
// scrape has completed and its in-memory task record has been evicted.
type FollowerStore interface {
	ListFollowers(profileID int64, kind string) ([]*database.InstagramFollower, error)
}

// ProfileCache is the subset of *profilecache.Policy check_profile and
// followers need.
type ProfileCache interface {
	Lookup(username string) (*database.InstagramProfile, bool, error)
	Upsert(username string, patch database.ProfilePatch) (*database.InstagramProfile, error)
}

// ProfileFetcher is the subset of *scraper.Orchestrator the façade needs
// to seed a brand-new profile row synchronously: internal/queue's worker
// requires the row to already exist before it will run the deep-scrape
// job check_profile enqueues (§4.6 step "load_profile").
type ProfileFetcher interface {
	GetProfile(ctx context.Context, username string) (*scraper.Profile, error)
}

// ScrapeQueue is the subset of *queue.Manager the façade drives (C6/C14).
type ScrapeQueue interface {
	Enqueue(username, userID string) string
	Status(taskID string) *queue.TaskStatus
	QueueStatus() queue.AggregateStatus
}

// PaymentOps is the subset of *payment.Service the façade drives.
type PaymentOps interface {
	ProcessPurchase(ctx context.Context, user *database.User, tariff *database.Tariff, cryptogram string) (*database.SubscriptionHistory, error)
	PauseSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error)
	ResumeSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error)
	StopAutoRenewal(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error)
	CancelSubscription(ctx context.Context, user *database.User) error
	HandlePaymentNotification(ctx context.Context, payload payment.WebhookPayload) error
}

// ActivityHooks is the subset of *scheduler.NotificationScheduler the
// façade fires on user activity (§4.12). Declared locally, the same way
// internal/scheduler declares its own Notifier rather than importing
// internal/notifier, so this package doesn't need to import
// internal/scheduler just to call three methods.
type ActivityHooks interface {
	RegisterAppStart(user *database.User) error
	RegisterAppExit(user *database.User) error
	RegisterProfileParse(user *database.User, username string) error
}

// Facade wires C6/C8/C9/C10/C12 into the §6 external-interface surface.
// Every field is a narrow capability interface so tests can swap in
// fakes without constructing a live database or gateway.
type Facade struct {
	Users         UserStore
	Subscriptions SubscriptionStore
	Tariffs       TariffStore
	Followers     FollowerStore
	Profiles      ProfileCache
	Scraper       ProfileFetcher
	Queue         ScrapeQueue
	Payments      PaymentOps
	Notifications ActivityHooks
}

// New builds a Facade. Subscriptions, Tariffs, Followers, Payments and
// Notifications may be left nil by callers that don't need the payment
// or notification surface (e.g. a parse-only deployment). The payment,
// subscription-status and purchase methods then return a validation
// error instead of panicking; CheckProfile, Followers and AppExit skip
// the missing collaborator.
func New(users UserStore, subs SubscriptionStore, tariffs TariffStore, followers FollowerStore, profiles ProfileCache, fetcher ProfileFetcher, q ScrapeQueue, payments PaymentOps, notifications ActivityHooks) *Facade {
	return &Facade{
		Users:         users,
		Subscriptions: subs,
		Tariffs:       tariffs,
		Followers:     followers,
		Profiles:      profiles,
		Scraper:       fetcher,
		Queue:         q,
		Payments:      payments,
		Notifications: notifications,
	}
}

// profileAnalytics is the analytics_json shape stamped on every profile
// snapshot (§4.5 get_profile): the counts at scrape time.
type profileAnalytics struct {
	FollowerCount  int64 `json:"follower_count"`
	FollowingCount int64 `json:"following_count"`
	MediaCount     int64 `json:"media_count"`
}

// toProfilePatch converts a freshly fetched scraper.Profile into the
// database.ProfilePatch UpsertProfile expects, encoding the analytics
// summary and recent-media list the same way *database.InstagramProfile
// itself encodes posts (see EncodePosts).
func toProfilePatch(p *scraper.Profile) (database.ProfilePatch, error) {
	analytics, err := json.Marshal(profileAnalytics{
		FollowerCount:  p.FollowerCount,
		FollowingCount: p.FollowingCount,
		MediaCount:     p.MediaCount,
	})
	if err != nil {
		return database.ProfilePatch{}, fmt.Errorf("encode analytics: %w", err)
	}

	media := make([]database.RecentMedia, 0, len(p.RecentMedia))
	for _, m := range p.RecentMedia {
		media = append(media, database.RecentMedia{
			Shortcode:        m.Shortcode,
			PK:               m.PK,
			IsVideo:          m.IsVideo,
			TakenAt:          m.TakenAt,
			CommentsDisabled: m.CommentsDisabled,
			CommentCount:     m.CommentCount,
			ImageURL:         m.ImageURL,
		})
	}
	posts, err := json.Marshal(media)
	if err != nil {
		return database.ProfilePatch{}, fmt.Errorf("encode posts: %w", err)
	}

	var avatarPath string
	if p.AvatarLocalPath != nil {
		avatarPath = *p.AvatarLocalPath
	}

	return database.ProfilePatch{
		InstagramUserID: p.UserID,
		FollowerCount:   p.FollowerCount,
		FollowingCount:  p.FollowingCount,
		MediaCount:      p.MediaCount,
		IsVerified:      p.IsVerified,
		IsPrivate:       p.IsPrivate,
		IsBusiness:      p.IsBusiness,
		Bio:             p.Bio,
		AnalyticsJSON:   string(analytics),
		PostsJSON:       string(posts),
		AvatarLocalPath: avatarPath,
	}, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// resolveUser loads or creates the calling user and fires the app_start
// activity hook. A blank externalUserID means an anonymous caller; no
// user is resolved and no activity is recorded.
func (f *Facade) resolveUser(externalUserID string) (*database.User, error) {
	if externalUserID == "" {
		return nil, nil
	}
	user, err := f.Users.GetOrCreateUser(externalUserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if f.Notifications != nil {
		if err := f.Notifications.RegisterAppStart(user); err != nil {
			logger.Warn("failed to record app_start activity", map[string]interface{}{"external_id": externalUserID, "error": err.Error()})
		}
	}
	return user, nil
}

// CheckProfileResponse is check_profile's response shape (§6).
type CheckProfileResponse struct {
	Success               bool
	Profile               *database.InstagramProfile
	Analytics             string
	Posts                 string
	Comments              string
	HasActiveSubscription bool
}

// CheckProfile serves the cached profile snapshot if one exists, seeding
// a brand-new row with a synchronous get_profile fetch otherwise (the
// deep-scrape job enqueued below requires the row to already exist), and
// kicks off a deep-scrape job whenever the row was just created or is
// stale (§6, §8 seed scenario 1).
func (f *Facade) CheckProfile(ctx context.Context, username, externalUserID string) (*CheckProfileResponse, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, apperr.New(apperr.KindValidation, "username is required", nil)
	}

	user, err := f.resolveUser(externalUserID)
	if err != nil {
		return nil, err
	}

	var hasActiveSubscription bool
	if user != nil && f.Subscriptions != nil {
		sub, err := f.Subscriptions.GetActiveOrPausedSubscription(user.ID)
		if err != nil {
			return nil, fmt.Errorf("load subscription: %w", err)
		}
		hasActiveSubscription = sub != nil && sub.Status == consts.SubscriptionActive
	}

	if user != nil && f.Notifications != nil {
		if err := f.Notifications.RegisterProfileParse(user, username); err != nil {
			logger.Warn("failed to register profile_parse activity", map[string]interface{}{"username": username, "error": err.Error()})
		}
	}

	profile, fresh, err := f.Profiles.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	justCreated := false
	if profile == nil {
		if f.Scraper == nil {
			return nil, apperr.New(apperr.KindValidation, "profile scraping is not configured", nil)
		}
		fetched, err := f.Scraper.GetProfile(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("fetch profile: %w", err)
		}
		patch, err := toProfilePatch(fetched)
		if err != nil {
			return nil, err
		}
		profile, err = f.Profiles.Upsert(username, patch)
		if err != nil {
			return nil, fmt.Errorf("store profile: %w", err)
		}
		justCreated = true
	}

	if justCreated || !fresh {
		f.Queue.Enqueue(username, externalUserID)
	}

	return &CheckProfileResponse{
		Success:               true,
		Profile:               profile,
		Analytics:             profile.AnalyticsJSON,
		Posts:                 profile.PostsJSON,
		Comments:              profile.CommentsJSON,
		HasActiveSubscription: hasActiveSubscription,
	}, nil
}

// ParseStatusResponse is parse_status's response shape (§6).
type ParseStatusResponse struct {
	Status string
	TaskID string
}

// ParseStatus reports the cached profile's own parse_state (its
// authoritative, persisted status — §4.6 step 7/8). A username with no
// cached profile reports not_found; the in-memory task record is not
// consulted.
func (f *Facade) ParseStatus(username string) (*ParseStatusResponse, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, apperr.New(apperr.KindValidation, "username is required", nil)
	}

	profile, _, err := f.Profiles.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return &ParseStatusResponse{Status: consts.TaskStatusNotFound}, nil
	}
	return &ParseStatusResponse{Status: profile.ParseState, TaskID: profile.ParseTaskID}, nil
}

// FollowersResponse is followers(username)'s response shape (§6).
type FollowersResponse struct {
	Success   bool
	Status    string
	TaskID    string
	Followers []*database.InstagramFollower
	Mutuals   []*database.InstagramFollower
}

// Followers reports the follower/mutual lists for a profile. While the
// job that produced them is still within the C14 task-status TTL, the
// richer in-memory mutual list from that run is used; otherwise the
// persisted follower rows (kind=follower) stand in, since mutuals
// aren't separately persisted (§3 — InstagramFollower.Kind is
// bookkeeping only, not a third "mutual" category).
func (f *Facade) Followers(username string) (*FollowersResponse, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, apperr.New(apperr.KindValidation, "username is required", nil)
	}

	profile, _, err := f.Profiles.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return &FollowersResponse{Success: true, Status: consts.TaskStatusNotFound}, nil
	}

	resp := &FollowersResponse{Success: true, Status: profile.ParseState, TaskID: profile.ParseTaskID}
	if profile.ParseTaskID != "" && f.Queue != nil {
		if task := f.Queue.Status(profile.ParseTaskID); task != nil && task.Status != consts.TaskStatusNotFound {
			resp.Status = task.Status
			for _, u := range task.Followers {
				resp.Followers = append(resp.Followers, &database.InstagramFollower{
					FollowerPK: u.FollowerPK, Username: u.Username, FullName: u.FullName,
					IsPrivate: u.IsPrivate, IsVerified: u.IsVerified, AvatarURL: u.AvatarURL,
				})
			}
			for _, u := range task.Mutuals {
				resp.Mutuals = append(resp.Mutuals, &database.InstagramFollower{
					FollowerPK: u.FollowerPK, Username: u.Username, FullName: u.FullName,
					IsPrivate: u.IsPrivate, IsVerified: u.IsVerified, AvatarURL: u.AvatarURL,
				})
			}
			return resp, nil
		}
	}

	if profile.ParseState == consts.ParseStateCompleted && f.Followers != nil {
		followers, err := f.Followers.ListFollowers(profile.ID, consts.FollowerKind)
		if err != nil {
			return nil, fmt.Errorf("load followers: %w", err)
		}
		resp.Followers = followers
	}
	return resp, nil
}

// SubscriptionStatusResponse is subscription_status's response shape (§6).
type SubscriptionStatusResponse struct {
	HasSubscription bool
	Status          string
	TariffID        int64
	AutoRenewal     bool
	NextPaymentDate *string
}

// SubscriptionStatus reports the caller's active-or-paused subscription,
// if any.
func (f *Facade) SubscriptionStatus(userID int64) (*SubscriptionStatusResponse, error) {
	if f.Subscriptions == nil {
		return nil, apperr.New(apperr.KindValidation, "subscriptions are not configured", nil)
	}
	sub, err := f.Subscriptions.GetActiveOrPausedSubscription(userID)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub == nil {
		return &SubscriptionStatusResponse{}, nil
	}

	resp := &SubscriptionStatusResponse{
		HasSubscription: true,
		Status:          sub.Status,
		TariffID:        sub.TariffID,
		AutoRenewal:     sub.AutoRenewal,
	}
	if sub.NextPaymentDate != nil {
		s := sub.NextPaymentDate.Format("2006-01-02T15:04:05Z07:00")
		resp.NextPaymentDate = &s
	}
	return resp, nil
}

func (f *Facade) loadUserByID(userID int64) (*database.User, error) {
	if f.Users == nil {
		return nil, apperr.New(apperr.KindValidation, "users are not configured", nil)
	}
	user, err := f.Users.GetUserByID(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.KindValidation, "unknown user", nil)
	}
	return user, nil
}

func (f *Facade) requirePayments() error {
	if f.Payments == nil {
		return apperr.New(apperr.KindValidation, "payments are not configured", nil)
	}
	return nil
}

// Pause cancels the gateway plan and pauses billing, resumable for up
// to 7 days (§4.10, §4.11 step 2).
func (f *Facade) Pause(ctx context.Context, userID int64) (*database.SubscriptionHistory, error) {
	if err := f.requirePayments(); err != nil {
		return nil, err
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return nil, err
	}
	return f.Payments.PauseSubscription(ctx, user)
}

// Resume restarts billing for a paused subscription (§4.10).
func (f *Facade) Resume(ctx context.Context, userID int64) (*database.SubscriptionHistory, error) {
	if err := f.requirePayments(); err != nil {
		return nil, err
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return nil, err
	}
	return f.Payments.ResumeSubscription(ctx, user)
}

// Cancel stops future auto-renewal but leaves the user's current paid
// period untouched (the soft cancel — see payment.Service.StopAutoRenewal).
func (f *Facade) Cancel(ctx context.Context, userID int64) (*database.SubscriptionHistory, error) {
	if err := f.requirePayments(); err != nil {
		return nil, err
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return nil, err
	}
	return f.Payments.StopAutoRenewal(ctx, user)
}

// CancelFull terminates the subscription and the user's paid access
// immediately (payment.Service.CancelSubscription).
func (f *Facade) CancelFull(ctx context.Context, userID int64) error {
	if err := f.requirePayments(); err != nil {
		return err
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return err
	}
	return f.Payments.CancelSubscription(ctx, user)
}

// Purchase charges a one-time card cryptogram for tariffName and
// activates it, cancelling any existing auto-renewing subscription
// first (payment.Service.ProcessPurchase).
func (f *Facade) Purchase(ctx context.Context, userID int64, tariffName, cryptogram string) (*database.SubscriptionHistory, error) {
	if err := f.requirePayments(); err != nil {
		return nil, err
	}
	if f.Tariffs == nil {
		return nil, apperr.New(apperr.KindValidation, "tariffs are not configured", nil)
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return nil, err
	}
	tariff, err := f.Tariffs.GetTariffByName(tariffName)
	if err != nil {
		return nil, fmt.Errorf("load tariff: %w", err)
	}
	if tariff == nil {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("unknown tariff %q", tariffName), nil)
	}
	return f.Payments.ProcessPurchase(ctx, user, tariff, cryptogram)
}

// WebhookPayments dispatches an inbound gateway notification (§6, §7).
// It always acknowledges — even a malformed body, a failed signature or
// a processing error is logged and swallowed, never surfaced to the
// gateway, so a transient local failure doesn't trigger a retry storm;
// the next scheduler tick reconciles any state the webhook couldn't.
func (f *Facade) WebhookPayments(ctx context.Context, contentType string, body []byte, signatureHex, webhookSecret string) {
	if err := f.requirePayments(); err != nil {
		logger.Warn("webhook received but payments are not configured", nil)
		return
	}
	if len(body) == 0 {
		return
	}

	payload, values, err := payment.ParseWebhookBody(contentType, body)
	if err != nil {
		logger.Warn("failed to parse payment webhook body", map[string]interface{}{"content_type": contentType, "error": err.Error()})
		return
	}
	if payload == nil {
		return
	}

	if webhookSecret != "" && !payment.VerifyWebhookHMAC(webhookSecret, values, signatureHex) {
		logger.Warn("payment webhook signature verification failed", map[string]interface{}{"transaction_id": payload.TransactionID})
		return
	}

	if err := f.Payments.HandlePaymentNotification(ctx, *payload); err != nil {
		logger.Warn("failed to process payment webhook", map[string]interface{}{"transaction_id": payload.TransactionID, "error": err.Error()})
	}
}

// AppExit records the app_exit activity (§4.12).
func (f *Facade) AppExit(userID int64) error {
	if f.Notifications == nil || f.Users == nil {
		return nil
	}
	user, err := f.loadUserByID(userID)
	if err != nil {
		return err
	}
	return f.Notifications.RegisterAppExit(user)
}
