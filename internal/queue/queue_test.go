package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/instarelay/instacore/internal/blobstore"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/scraper"
)

type fakeProfileStore struct {
	mu        sync.Mutex
	profiles  map[string]*database.InstagramProfile
	followers map[int64][]*database.InstagramFollower
	comments  map[string]string
	statuses  []string
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles:  make(map[string]*database.InstagramProfile),
		followers: make(map[int64][]*database.InstagramFollower),
		comments:  make(map[string]string),
	}
}

func (f *fakeProfileStore) GetProfileByUsername(username string) (*database.InstagramProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[username], nil
}

func (f *fakeProfileStore) SetParseStatus(username, status, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[username]; ok {
		p.ParseState = status
		p.ParseTaskID = taskID
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeProfileStore) SetParseFailure(username, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[username]; ok {
		p.ParseState = "failed"
		p.ParseError = errMsg
	}
	return nil
}

func (f *fakeProfileStore) SetProfileComments(username, commentsJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[username] = commentsJSON
	return nil
}

func (f *fakeProfileStore) UpsertFollower(profileID int64, row *database.InstagramFollower) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followers[profileID] = append(f.followers[profileID], row)
	return nil
}

type fakeScraper struct {
	followers  []scraper.UserNode
	followings []scraper.UserNode
	comments   []scraper.Comment
	err        error
}

func (f *fakeScraper) GetUserList(ctx context.Context, userID string, kind scraper.ListKind, maxCount int) ([]scraper.UserNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	if kind == scraper.KindFollowers {
		return f.followers, nil
	}
	return f.followings, nil
}

func (f *fakeScraper) CollectComments(ctx context.Context, username string, maxMedia, maxTotal int) ([]scraper.Comment, error) {
	return f.comments, f.err
}

type fakeBlobs struct{}

func (f *fakeBlobs) BatchSaveFollowerAvatars(ctx context.Context, items []blobstore.Item) map[string]*string {
	out := make(map[string]*string, len(items))
	for _, item := range items {
		p := "followers/" + item.Key + ".jpg"
		out[item.Key] = &p
	}
	return out
}

type fakePager struct{}

func (f *fakePager) Wait(ctx context.Context) error { return nil }

func TestManagerEnqueueAndCompletePipeline(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["alice"] = &database.InstagramProfile{ID: 1, Username: "alice", InstagramUserID: "123"}

	sc := &fakeScraper{
		followers:  []scraper.UserNode{{FollowerPK: "1", AvatarURL: "https://example.com/1.jpg"}, {FollowerPK: "2"}},
		followings: []scraper.UserNode{{FollowerPK: "2"}, {FollowerPK: "3"}},
		comments:   []scraper.Comment{{Text: "hi", Username: "bob"}},
	}

	m := NewManager(WorkerDeps{Store: store, Scraper: sc, Blobs: &fakeBlobs{}, Pacer: &fakePager{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)
	defer m.Stop()

	taskID := m.Enqueue("alice", "123")
	waitForStatus(t, m, taskID, consts.TaskStatusCompleted)

	st := m.Status(taskID)
	if st.Status != consts.TaskStatusCompleted {
		t.Fatalf("expected completed status, got %q", st.Status)
	}
	if len(st.Mutuals) != 1 || st.Mutuals[0].FollowerPK != "2" {
		t.Errorf("expected mutual follower '2', got %+v", st.Mutuals)
	}
	if len(st.Comments) != 1 {
		t.Errorf("expected 1 collected comment, got %d", len(st.Comments))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.profiles["alice"].ParseState != consts.ParseStateCompleted {
		t.Errorf("expected profile parse state completed, got %q", store.profiles["alice"].ParseState)
	}
	if len(store.followers[1]) != 4 {
		t.Errorf("expected 4 upserted rows (2 followers + 2 followings), got %d", len(store.followers[1]))
	}
}

func TestManagerEnqueueFailsOnMissingProfile(t *testing.T) {
	store := newFakeProfileStore()
	sc := &fakeScraper{}

	m := NewManager(WorkerDeps{Store: store, Scraper: sc})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)
	defer m.Stop()

	taskID := m.Enqueue("ghost", "999")
	waitForStatus(t, m, taskID, consts.TaskStatusFailed)

	st := m.Status(taskID)
	if st.Error == "" {
		t.Error("expected a non-empty error message on failure")
	}
}

func TestManagerStatusNotFoundForUnknownTask(t *testing.T) {
	m := NewManager(WorkerDeps{Store: newFakeProfileStore(), Scraper: &fakeScraper{}})
	st := m.Status("does-not-exist")
	if st.Status != consts.TaskStatusNotFound {
		t.Errorf("expected not_found status, got %q", st.Status)
	}
}

func TestManagerQueueStatusAggregates(t *testing.T) {
	store := newFakeProfileStore()
	store.profiles["alice"] = &database.InstagramProfile{ID: 1, Username: "alice"}

	m := NewManager(WorkerDeps{Store: store, Scraper: &fakeScraper{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)
	defer m.Stop()

	taskID := m.Enqueue("alice", "123")
	waitForStatus(t, m, taskID, consts.TaskStatusCompleted)

	agg := m.QueueStatus()
	if !agg.WorkerAlive {
		t.Error("expected worker to be reported alive")
	}
	if len(agg.CompletedTasks) != 1 {
		t.Errorf("expected 1 completed task in aggregate, got %+v", agg.CompletedTasks)
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := newQueue()
	q.push(&job{taskID: "1"})
	q.push(&job{taskID: "2"})
	q.push(&job{taskID: "3"})

	for _, want := range []string{"1", "2", "3"} {
		j, ok := q.pop()
		if !ok || j.taskID != want {
			t.Fatalf("expected task %q, got %+v (ok=%v)", want, j, ok)
		}
	}
}

func waitForStatus(t *testing.T, m *Manager, taskID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := m.Status(taskID)
		if st.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task %q did not reach status %q within deadline (last=%q)", taskID, want, m.Status(taskID).Status)
}
