package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/payment"
	"github.com/instarelay/instacore/internal/queue"
	"github.com/instarelay/instacore/internal/scraper"
)

type fakeUsers struct {
	byExtID map[string]*database.User
	byID    map[int64]*database.User
	nextID  int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byExtID: make(map[string]*database.User), byID: make(map[int64]*database.User)}
}

func (f *fakeUsers) GetOrCreateUser(externalID string) (*database.User, error) {
	if u, ok := f.byExtID[externalID]; ok {
		return u, nil
	}
	f.nextID++
	u := &database.User{ID: f.nextID, ExternalID: externalID}
	f.byExtID[externalID] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetUserByID(id int64) (*database.User, error) {
	return f.byID[id], nil
}

type fakeSubs struct {
	byUser map[int64]*database.SubscriptionHistory
}

func (f *fakeSubs) GetActiveOrPausedSubscription(userID int64) (*database.SubscriptionHistory, error) {
	return f.byUser[userID], nil
}

type fakeTariffs struct {
	byName map[string]*database.Tariff
}

func (f *fakeTariffs) GetTariffByName(name string) (*database.Tariff, error) {
	return f.byName[name], nil
}

type fakeFollowerStore struct {
	byProfile map[int64][]*database.InstagramFollower
}

func (f *fakeFollowerStore) ListFollowers(profileID int64, kind string) ([]*database.InstagramFollower, error) {
	var out []*database.InstagramFollower
	for _, row := range f.byProfile[profileID] {
		if row.Kind == kind {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeProfiles struct {
	byUsername map[string]*database.InstagramProfile
	fresh      map[string]bool
	err        error
}

func (f *fakeProfiles) Lookup(username string) (*database.InstagramProfile, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	p, ok := f.byUsername[username]
	if !ok {
		return nil, false, nil
	}
	return p, f.fresh[username], nil
}

func (f *fakeProfiles) Upsert(username string, patch database.ProfilePatch) (*database.InstagramProfile, error) {
	p := &database.InstagramProfile{
		Username:        username,
		InstagramUserID: patch.InstagramUserID,
		FollowerCount:   patch.FollowerCount,
		FollowingCount:  patch.FollowingCount,
		MediaCount:      patch.MediaCount,
		IsVerified:      patch.IsVerified,
		IsPrivate:       patch.IsPrivate,
		IsBusiness:      patch.IsBusiness,
		Bio:             patch.Bio,
		AnalyticsJSON:   patch.AnalyticsJSON,
		PostsJSON:       patch.PostsJSON,
		AvatarLocalPath: patch.AvatarLocalPath,
	}
	if f.byUsername == nil {
		f.byUsername = map[string]*database.InstagramProfile{}
	}
	f.byUsername[username] = p
	if f.fresh == nil {
		f.fresh = map[string]bool{}
	}
	f.fresh[username] = true
	return p, nil
}

type fakeScraper struct {
	profile *scraper.Profile
	err     error
}

func (f *fakeScraper) GetProfile(ctx context.Context, username string) (*scraper.Profile, error) {
	return f.profile, f.err
}

type fakeQueue struct {
	enqueued []string
	taskID   string
	statuses map[string]*queue.TaskStatus
}

func (f *fakeQueue) Enqueue(username, userID string) string {
	f.enqueued = append(f.enqueued, username)
	return f.taskID
}

func (f *fakeQueue) Status(taskID string) *queue.TaskStatus {
	if st, ok := f.statuses[taskID]; ok {
		return st
	}
	return &queue.TaskStatus{Status: consts.TaskStatusNotFound}
}

func (f *fakeQueue) QueueStatus() queue.AggregateStatus {
	return queue.AggregateStatus{}
}

type fakePayments struct {
	pauseResult      *database.SubscriptionHistory
	resumeResult     *database.SubscriptionHistory
	stopResult       *database.SubscriptionHistory
	purchaseResult   *database.SubscriptionHistory
	cancelErr        error
	webhookCalls     []payment.WebhookPayload
	webhookErr       error
}

func (f *fakePayments) ProcessPurchase(ctx context.Context, user *database.User, tariff *database.Tariff, cryptogram string) (*database.SubscriptionHistory, error) {
	return f.purchaseResult, nil
}

func (f *fakePayments) PauseSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	return f.pauseResult, nil
}

func (f *fakePayments) ResumeSubscription(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	return f.resumeResult, nil
}

func (f *fakePayments) StopAutoRenewal(ctx context.Context, user *database.User) (*database.SubscriptionHistory, error) {
	return f.stopResult, nil
}

func (f *fakePayments) CancelSubscription(ctx context.Context, user *database.User) error {
	return f.cancelErr
}

func (f *fakePayments) HandlePaymentNotification(ctx context.Context, p payment.WebhookPayload) error {
	f.webhookCalls = append(f.webhookCalls, p)
	return f.webhookErr
}

type fakeActivityHooks struct {
	starts         []int64
	exits          []int64
	profileParses  []string
	profileParseErr error
}

func (f *fakeActivityHooks) RegisterAppStart(user *database.User) error {
	f.starts = append(f.starts, user.ID)
	return nil
}

func (f *fakeActivityHooks) RegisterAppExit(user *database.User) error {
	f.exits = append(f.exits, user.ID)
	return nil
}

func (f *fakeActivityHooks) RegisterProfileParse(user *database.User, username string) error {
	f.profileParses = append(f.profileParses, username)
	return f.profileParseErr
}

func TestCheckProfileEnqueuesWhenProfileMissing(t *testing.T) {
	users := newFakeUsers()
	q := &fakeQueue{taskID: "alice_1"}
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{}}
	hooks := &fakeActivityHooks{}
	fetcher := &fakeScraper{profile: &scraper.Profile{UserID: "99", FollowerCount: 10}}
	f := New(users, &fakeSubs{byUser: map[int64]*database.SubscriptionHistory{}}, nil, nil, profiles, fetcher, q, nil, hooks)

	resp, err := f.CheckProfile(context.Background(), "Alice", "ext_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Profile == nil || resp.Profile.Username != "alice" {
		t.Fatalf("expected a newly seeded profile row, got %+v", resp)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != "alice" {
		t.Fatalf("expected a scrape enqueued for lowercased username, got %v", q.enqueued)
	}
	if len(hooks.starts) != 1 || len(hooks.profileParses) != 1 {
		t.Fatalf("expected app_start and profile_parse activity recorded, got %+v", hooks)
	}
}

func TestCheckProfileRejectsWhenScraperNotConfigured(t *testing.T) {
	users := newFakeUsers()
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{}}
	f := New(users, nil, nil, nil, profiles, nil, &fakeQueue{}, nil, nil)

	_, err := f.CheckProfile(context.Background(), "alice", "")
	if !apperr.Of(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation when no scraper is wired for a brand-new username, got %v", err)
	}
}

func TestCheckProfileServesFreshCacheWithoutEnqueueing(t *testing.T) {
	users := newFakeUsers()
	q := &fakeQueue{}
	profile := &database.InstagramProfile{ID: 1, Username: "alice", AnalyticsJSON: `{"x":1}`}
	profiles := &fakeProfiles{
		byUsername: map[string]*database.InstagramProfile{"alice": profile},
		fresh:      map[string]bool{"alice": true},
	}
	f := New(users, &fakeSubs{byUser: map[int64]*database.SubscriptionHistory{}}, nil, nil, profiles, nil, q, nil, &fakeActivityHooks{})

	resp, err := f.CheckProfile(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Profile != profile || resp.Analytics != `{"x":1}` {
		t.Fatalf("expected the cached profile returned as-is, got %+v", resp)
	}
	if len(q.enqueued) != 0 {
		t.Fatalf("expected no enqueue for a fresh cache hit, got %v", q.enqueued)
	}
}

func TestCheckProfileReportsActiveSubscription(t *testing.T) {
	users := newFakeUsers()
	sub := &database.SubscriptionHistory{UserID: 1, Status: consts.SubscriptionActive}
	subs := &fakeSubs{byUser: map[int64]*database.SubscriptionHistory{1: sub}}
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{}}
	q := &fakeQueue{}
	fetcher := &fakeScraper{profile: &scraper.Profile{UserID: "99"}}
	f := New(users, subs, nil, nil, profiles, fetcher, q, nil, &fakeActivityHooks{})

	resp, err := f.CheckProfile(context.Background(), "alice", "ext_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasActiveSubscription {
		t.Fatal("expected the resolved user's active subscription reflected in the response")
	}
}

func TestCheckProfileRejectsEmptyUsername(t *testing.T) {
	f := New(newFakeUsers(), nil, nil, nil, &fakeProfiles{}, nil, &fakeQueue{}, nil, nil)
	_, err := f.CheckProfile(context.Background(), "   ", "")
	if !apperr.Of(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation for blank username, got %v", err)
	}
}

func TestParseStatusReportsPersistedState(t *testing.T) {
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{
		"alice": {ParseState: consts.ParseStateProcessing, ParseTaskID: "alice_1"},
	}}
	f := New(nil, nil, nil, nil, profiles, nil, nil, nil, nil)

	resp, err := f.ParseStatus("Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != consts.ParseStateProcessing || resp.TaskID != "alice_1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestParseStatusReportsNotFoundForUnknownUsername(t *testing.T) {
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{}}
	f := New(nil, nil, nil, nil, profiles, nil, nil, nil, nil)

	resp, err := f.ParseStatus("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != consts.TaskStatusNotFound {
		t.Fatalf("expected not_found status, got %+v", resp)
	}
}

func TestFollowersPrefersLiveTaskStatusOverPersistedRows(t *testing.T) {
	profile := &database.InstagramProfile{ID: 5, Username: "alice", ParseState: consts.ParseStateCompleted, ParseTaskID: "alice_1"}
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{"alice": profile}}
	q := &fakeQueue{statuses: map[string]*queue.TaskStatus{
		"alice_1": {
			Status:  consts.TaskStatusCompleted,
			Mutuals: []scraper.UserNode{{FollowerPK: "42", Username: "bob"}},
		},
	}}
	followerStore := &fakeFollowerStore{byProfile: map[int64][]*database.InstagramFollower{
		5: {{FollowerPK: "999", Username: "stale", Kind: consts.FollowerKind}},
	}}
	f := New(nil, nil, nil, followerStore, profiles, nil, q, nil, nil)

	resp, err := f.Followers("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Mutuals) != 1 || resp.Mutuals[0].Username != "bob" {
		t.Fatalf("expected the live task mutuals preferred over persisted rows, got %+v", resp.Mutuals)
	}
}

func TestFollowersFallsBackToPersistedRowsWhenTaskEvicted(t *testing.T) {
	profile := &database.InstagramProfile{ID: 5, Username: "alice", ParseState: consts.ParseStateCompleted, ParseTaskID: "alice_1"}
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{"alice": profile}}
	q := &fakeQueue{statuses: map[string]*queue.TaskStatus{}}
	followerStore := &fakeFollowerStore{byProfile: map[int64][]*database.InstagramFollower{
		5: {{FollowerPK: "1", Username: "carol", Kind: consts.FollowerKind}},
	}}
	f := New(nil, nil, nil, followerStore, profiles, nil, q, nil, nil)

	resp, err := f.Followers("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Followers) != 1 || resp.Followers[0].Username != "carol" {
		t.Fatalf("expected persisted follower rows once the task record is gone, got %+v", resp.Followers)
	}
}

func TestSubscriptionStatusReportsNoneWhenAbsent(t *testing.T) {
	f := New(nil, &fakeSubs{byUser: map[int64]*database.SubscriptionHistory{}}, nil, nil, nil, nil, nil, nil, nil)
	resp, err := f.SubscriptionStatus(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.HasSubscription {
		t.Fatalf("expected no subscription, got %+v", resp)
	}
}

func TestSubscriptionStatusReportsActiveSubscriptionDetails(t *testing.T) {
	next := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sub := &database.SubscriptionHistory{UserID: 1, Status: consts.SubscriptionActive, TariffID: 3, AutoRenewal: true, NextPaymentDate: &next}
	f := New(nil, &fakeSubs{byUser: map[int64]*database.SubscriptionHistory{1: sub}}, nil, nil, nil, nil, nil, nil, nil)

	resp, err := f.SubscriptionStatus(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.HasSubscription || resp.TariffID != 3 || !resp.AutoRenewal || resp.NextPaymentDate == nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPauseResumeCancelDelegateToPaymentService(t *testing.T) {
	users := newFakeUsers()
	u, _ := users.GetOrCreateUser("ext_1")
	pauseResult := &database.SubscriptionHistory{ID: 1, Status: consts.SubscriptionPaused}
	resumeResult := &database.SubscriptionHistory{ID: 1, Status: consts.SubscriptionActive}
	stopResult := &database.SubscriptionHistory{ID: 1, AutoRenewal: false}
	pay := &fakePayments{pauseResult: pauseResult, resumeResult: resumeResult, stopResult: stopResult}
	f := New(users, nil, nil, nil, nil, nil, nil, pay, nil)

	if sub, err := f.Pause(context.Background(), u.ID); err != nil || sub != pauseResult {
		t.Fatalf("expected pause delegated to payment service, got %+v, %v", sub, err)
	}
	if sub, err := f.Resume(context.Background(), u.ID); err != nil || sub != resumeResult {
		t.Fatalf("expected resume delegated to payment service, got %+v, %v", sub, err)
	}
	if sub, err := f.Cancel(context.Background(), u.ID); err != nil || sub != stopResult {
		t.Fatalf("expected cancel delegated to StopAutoRenewal, got %+v, %v", sub, err)
	}
}

func TestCancelFullDelegatesToCancelSubscription(t *testing.T) {
	users := newFakeUsers()
	u, _ := users.GetOrCreateUser("ext_1")
	pay := &fakePayments{cancelErr: nil}
	f := New(users, nil, nil, nil, nil, nil, nil, pay, nil)

	if err := f.CancelFull(context.Background(), u.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPauseRejectsUnknownUser(t *testing.T) {
	users := newFakeUsers()
	pay := &fakePayments{}
	f := New(users, nil, nil, nil, nil, nil, nil, pay, nil)

	_, err := f.Pause(context.Background(), 999)
	if !apperr.Of(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation for unknown user, got %v", err)
	}
}

func TestPurchaseResolvesTariffAndDelegates(t *testing.T) {
	users := newFakeUsers()
	u, _ := users.GetOrCreateUser("ext_1")
	tariff := &database.Tariff{ID: 2, Name: consts.TariffFull}
	tariffs := &fakeTariffs{byName: map[string]*database.Tariff{consts.TariffFull: tariff}}
	purchaseResult := &database.SubscriptionHistory{ID: 9}
	pay := &fakePayments{purchaseResult: purchaseResult}
	f := New(users, nil, tariffs, nil, nil, nil, nil, pay, nil)

	sub, err := f.Purchase(context.Background(), u.ID, consts.TariffFull, "crypto_blob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != purchaseResult {
		t.Fatalf("expected the purchase delegated to ProcessPurchase, got %+v", sub)
	}
}

func TestPurchaseRejectsUnknownTariff(t *testing.T) {
	users := newFakeUsers()
	u, _ := users.GetOrCreateUser("ext_1")
	tariffs := &fakeTariffs{byName: map[string]*database.Tariff{}}
	f := New(users, nil, tariffs, nil, nil, nil, nil, &fakePayments{}, nil)

	_, err := f.Purchase(context.Background(), u.ID, "Nonexistent", "crypto_blob")
	if !apperr.Of(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation for unknown tariff, got %v", err)
	}
}

func TestWebhookPaymentsDispatchesValidJSONBody(t *testing.T) {
	pay := &fakePayments{}
	f := New(nil, nil, nil, nil, nil, nil, nil, pay, nil)

	body := []byte(`{"TransactionId":"1","AccountId":"ext_1","Amount":9.99,"Status":"Completed","Token":"tok"}`)
	f.WebhookPayments(context.Background(), "application/json", body, "", "")

	if len(pay.webhookCalls) != 1 || pay.webhookCalls[0].TransactionID != "1" {
		t.Fatalf("expected the webhook dispatched to HandlePaymentNotification, got %+v", pay.webhookCalls)
	}
}

func TestWebhookPaymentsAcknowledgesEmptyBodyWithoutDispatch(t *testing.T) {
	pay := &fakePayments{}
	f := New(nil, nil, nil, nil, nil, nil, nil, pay, nil)

	f.WebhookPayments(context.Background(), "application/json", nil, "", "")

	if len(pay.webhookCalls) != 0 {
		t.Fatalf("expected no dispatch for an empty body, got %+v", pay.webhookCalls)
	}
}

func TestWebhookPaymentsSwallowsProcessingErrors(t *testing.T) {
	pay := &fakePayments{webhookErr: errors.New("boom")}
	f := New(nil, nil, nil, nil, nil, nil, nil, pay, nil)

	body := []byte(`{"TransactionId":"1","AccountId":"ext_1","Amount":9.99,"Status":"Completed","Token":"tok"}`)
	f.WebhookPayments(context.Background(), "application/json", body, "", "")
}

func TestAppExitRecordsActivity(t *testing.T) {
	users := newFakeUsers()
	u, _ := users.GetOrCreateUser("ext_1")
	hooks := &fakeActivityHooks{}
	f := New(users, nil, nil, nil, nil, nil, nil, nil, hooks)

	if err := f.AppExit(u.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hooks.exits) != 1 || hooks.exits[0] != u.ID {
		t.Fatalf("expected app_exit recorded for the user, got %+v", hooks.exits)
	}
}

func TestCheckProfilePropagatesScraperFetchError(t *testing.T) {
	users := newFakeUsers()
	profiles := &fakeProfiles{byUsername: map[string]*database.InstagramProfile{}}
	fetcher := &fakeScraper{err: apperr.New(apperr.KindValidation, "profile not found", nil)}
	f := New(users, nil, nil, nil, profiles, fetcher, &fakeQueue{}, nil, nil)

	_, err := f.CheckProfile(context.Background(), "ghost", "")
	if err == nil {
		t.Fatal("expected the scraper's fetch error to propagate")
	}
}

func TestToProfilePatchEncodesAnalyticsAndPosts(t *testing.T) {
	path := "/avatars/alice.jpg"
	profile := &scraper.Profile{
		UserID:          "99",
		FollowerCount:   10,
		FollowingCount:  5,
		MediaCount:      2,
		IsVerified:      true,
		Bio:             "hello",
		AvatarLocalPath: &path,
		RecentMedia: []scraper.Media{
			{PK: "1", Shortcode: "abc", CommentCount: 3},
		},
	}

	patch, err := toProfilePatch(profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patch.InstagramUserID != "99" || patch.FollowerCount != 10 || !patch.IsVerified {
		t.Fatalf("unexpected patch: %+v", patch)
	}
	if patch.AvatarLocalPath != path {
		t.Fatalf("expected avatar path carried through, got %q", patch.AvatarLocalPath)
	}
	if !strings.Contains(patch.AnalyticsJSON, `"follower_count":10`) {
		t.Fatalf("expected analytics JSON to carry follower_count, got %q", patch.AnalyticsJSON)
	}
	if !strings.Contains(patch.PostsJSON, `"shortcode":"abc"`) {
		t.Fatalf("expected posts JSON to carry recent media, got %q", patch.PostsJSON)
	}
}
