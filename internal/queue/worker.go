package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/instarelay/instacore/internal/blobstore"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/logger"
	"github.com/instarelay/instacore/internal/metrics"
	"github.com/instarelay/instacore/internal/scraper"
)

// maxListSize bounds how many followers/followings a single deep-scrape
// job pulls per side; the spec leaves this unbounded, but a page budget
// keeps one job from running forever against a profile with millions of
// followers.
const maxListSize = 200

// ProfileStore is the subset of *database.DB the worker needs to drive a
// deep-scrape job (§4.6).
type ProfileStore interface {
	GetProfileByUsername(username string) (*database.InstagramProfile, error)
	SetParseStatus(username, status, taskID string) error
	SetParseFailure(username, errMsg string) error
	SetProfileComments(username, commentsJSON string) error
	UpsertFollower(profileID int64, f *database.InstagramFollower) error
}

// Scraper is the subset of *scraper.Orchestrator the worker needs.
type Scraper interface {
	GetUserList(ctx context.Context, userID string, kind scraper.ListKind, maxCount int) ([]scraper.UserNode, error)
	CollectComments(ctx context.Context, username string, maxMedia, maxTotal int) ([]scraper.Comment, error)
}

// AvatarBatcher is the subset of *blobstore.Store the worker needs.
type AvatarBatcher interface {
	BatchSaveFollowerAvatars(ctx context.Context, items []blobstore.Item) map[string]*string
}

// Pager paces the between-fetch sleeps of step 2 (§4.6).
type Pager interface {
	Wait(ctx context.Context) error
}

// WorkerDeps wires the worker's collaborators. Metrics is optional.
type WorkerDeps struct {
	Store   ProfileStore
	Scraper Scraper
	Blobs   AvatarBatcher
	Pacer   Pager
	Metrics *metrics.Collector
}

type worker struct {
	queue   *Queue
	status  *StatusStore
	store   ProfileStore
	scraper Scraper
	blobs   AvatarBatcher
	pacer   Pager
	metrics *metrics.Collector
}

func newWorker(q *Queue, status *StatusStore, deps WorkerDeps) *worker {
	return &worker{
		queue:   q,
		status:  status,
		store:   deps.Store,
		scraper: deps.Scraper,
		blobs:   deps.Blobs,
		pacer:   deps.Pacer,
		metrics: deps.Metrics,
	}
}

// loop pops and runs jobs until it pops the shutdown sentinel (§4.6).
func (w *worker) loop(ctx context.Context) {
	logger.InfoMsg("scrape worker started")
	for {
		j, ok := w.queue.pop()
		if !ok || j.shutdown {
			logger.InfoMsg("scrape worker stopping")
			return
		}
		w.process(ctx, j)
	}
}

// process runs the eight-step deep-scrape pipeline for one job (§4.6).
// Any failure short-circuits the remaining steps, marks the profile and
// the task failed, and lets the worker move on to the next job.
func (w *worker) process(ctx context.Context, j *job) {
	start := time.Now()
	st := w.status.Get(j.taskID)

	fail := func(stage string, err error) {
		msg := fmt.Sprintf("%s: %v", stage, err)
		logger.Warn("scrape job failed", map[string]interface{}{
			"username": j.username,
			"task_id":  j.taskID,
			"stage":    stage,
			"error":    err.Error(),
		})
		if setErr := w.store.SetParseFailure(j.username, msg); setErr != nil {
			logger.Warn("failed to record parse failure", map[string]interface{}{"username": j.username, "error": setErr.Error()})
		}
		st.Status = consts.TaskStatusFailed
		st.Error = msg
		now := time.Now()
		st.CompletedAt = &now
		if w.metrics != nil {
			w.metrics.RecordJobCompleted("deep_scrape", "failed", time.Since(start), w.queue.Depth())
		}
	}

	// Step 1: transition to processing, stamp parse_task_id.
	if err := w.store.SetParseStatus(j.username, consts.ParseStateProcessing, j.taskID); err != nil {
		fail("set_processing", err)
		return
	}
	st.Status = consts.TaskStatusProcessing

	profile, err := w.store.GetProfileByUsername(j.username)
	if err != nil {
		fail("load_profile", err)
		return
	}
	if profile == nil {
		fail("load_profile", fmt.Errorf("profile %q not found", j.username))
		return
	}

	userID := j.userID
	if userID == "" {
		userID = profile.InstagramUserID
	}

	// Step 2: followers, sleep, followings, sleep.
	followers, err := w.scraper.GetUserList(ctx, userID, scraper.KindFollowers, maxListSize)
	if err != nil {
		fail("fetch_followers", err)
		return
	}
	w.sleepBetween(ctx)

	followings, err := w.scraper.GetUserList(ctx, userID, scraper.KindFollowings, maxListSize)
	if err != nil {
		fail("fetch_followings", err)
		return
	}
	w.sleepBetween(ctx)

	mutuals := scraper.FindMutualFollowers(followers, followings)

	comments, err := w.scraper.CollectComments(ctx, j.username, consts.MaxScrapedMedia, consts.MaxCollectedComments)
	if err != nil {
		fail("collect_comments", err)
		return
	}

	// Step 3: if mutuals is empty, fall back to a random sample.
	avatarCandidates := mutuals
	if len(avatarCandidates) == 0 {
		avatarCandidates = sampleUserNodes(followings, consts.MaxMutualAvatars)
		if len(avatarCandidates) == 0 {
			avatarCandidates = sampleUserNodes(followers, consts.MaxMutualAvatars)
		}
	} else if len(avatarCandidates) > consts.MaxMutualAvatars {
		avatarCandidates = sampleUserNodes(avatarCandidates, consts.MaxMutualAvatars)
	}

	// Step 4: batch-save avatars for the selected candidates.
	avatarPaths := make(map[string]string)
	if w.blobs != nil && len(avatarCandidates) > 0 {
		items := make([]blobstore.Item, 0, len(avatarCandidates))
		for _, u := range avatarCandidates {
			if u.AvatarURL != "" {
				items = append(items, blobstore.Item{Key: u.FollowerPK, URL: u.AvatarURL})
			}
		}
		for pk, path := range w.blobs.BatchSaveFollowerAvatars(ctx, items) {
			if path != nil {
				avatarPaths[pk] = *path
			}
		}
	}

	// Step 5: upsert followers and followings keyed by follower_pk,
	// attaching the local avatar path saved in step 4 where available.
	for _, u := range followers {
		row := toFollowerRow(u, consts.FollowerKind)
		row.AvatarLocalPath = avatarPaths[u.FollowerPK]
		if err := w.store.UpsertFollower(profile.ID, row); err != nil {
			logger.Warn("failed to upsert follower", map[string]interface{}{"username": j.username, "follower_pk": u.FollowerPK, "error": err.Error()})
		}
	}
	for _, u := range followings {
		row := toFollowerRow(u, consts.FollowingKind)
		row.AvatarLocalPath = avatarPaths[u.FollowerPK]
		if err := w.store.UpsertFollower(profile.ID, row); err != nil {
			logger.Warn("failed to upsert following", map[string]interface{}{"username": j.username, "follower_pk": u.FollowerPK, "error": err.Error()})
		}
	}

	// Step 6: store comments JSON.
	commentsJSON, err := json.Marshal(comments)
	if err != nil {
		fail("marshal_comments", err)
		return
	}
	if err := w.store.SetProfileComments(j.username, string(commentsJSON)); err != nil {
		fail("store_comments", err)
		return
	}

	// Step 7: transition to completed, write aggregated result.
	if err := w.store.SetParseStatus(j.username, consts.ParseStateCompleted, j.taskID); err != nil {
		fail("set_completed", err)
		return
	}

	now := time.Now()
	st.Status = consts.TaskStatusCompleted
	st.CompletedAt = &now
	st.Followers = followers
	st.Followings = followings
	st.Mutuals = mutuals
	st.Comments = comments

	if w.metrics != nil {
		w.metrics.RecordJobCompleted("deep_scrape", "completed", time.Since(start), w.queue.Depth())
	}
}

// sleepBetween pauses between the followers and followings phases of a
// job (§4.6 step 2). Falls back to a small jittered sleep if no pacer was
// wired, so tests and callers that skip C4 still get a brief pause.
func (w *worker) sleepBetween(ctx context.Context) {
	if w.pacer != nil {
		_ = w.pacer.Wait(ctx)
		return
	}
	select {
	case <-time.After(time.Duration(50+rand.Intn(150)) * time.Millisecond):
	case <-ctx.Done():
	}
}

func sampleUserNodes(nodes []scraper.UserNode, max int) []scraper.UserNode {
	if len(nodes) <= max {
		out := make([]scraper.UserNode, len(nodes))
		copy(out, nodes)
		return out
	}
	shuffled := make([]scraper.UserNode, len(nodes))
	copy(shuffled, nodes)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:max]
}

func toFollowerRow(u scraper.UserNode, kind string) *database.InstagramFollower {
	return &database.InstagramFollower{
		FollowerPK: u.FollowerPK,
		Username:   u.Username,
		FullName:   u.FullName,
		IsPrivate:  u.IsPrivate,
		IsVerified: u.IsVerified,
		AvatarURL:  u.AvatarURL,
		Kind:       kind,
	}
}
