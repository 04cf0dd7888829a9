// Package queue implements the unbounded FIFO scrape job queue, its
// single background worker, and the task-status TTL map (C6, C14). The
// FIFO itself is a hand-rolled condition-variable queue rather than a
// buffered channel: the spec calls for an unbounded queue, and the
// teacher's own channel-based queues (internal/telegram.WorkerPool,
// experiments/monitoring/queue) are all bounded by a fixed buffer size.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/instarelay/instacore/internal/cache"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/scraper"
)

// job is one queued scrape request. A nil-equivalent shutdown job
// (shutdown=true) is how Stop signals the worker to exit, matching the
// spec's "enqueue(nil) signals the worker to stop" (§4.6).
type job struct {
	taskID   string
	username string
	userID   string
	shutdown bool
}

// Queue is an unbounded, FIFO, single-consumer job queue.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*job
	closed bool
}

func newQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) push(j *job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.cond.Signal()
	q.mu.Unlock()
}

// pop blocks until a job is available, or returns ok=false once the queue
// has been closed and drained.
func (q *Queue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	return j, true
}

// Depth reports the number of jobs currently waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close unblocks a pop waiting on an empty, permanently-idle queue. Not
// used by Manager.Stop, which instead enqueues a shutdown sentinel so
// jobs already queued ahead of it still run to completion.
func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// TaskStatus is the per-task record exposed by the parse task status API
// (§4.14). Followers/Followings/Mutuals/Comments are populated only once
// Status reaches "completed".
type TaskStatus struct {
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Followers   []scraper.UserNode
	Followings  []scraper.UserNode
	Mutuals     []scraper.UserNode
	Comments    []scraper.Comment
}

// StatusStore is a TTL map of task_id -> *TaskStatus, evicted after
// consts.TaskStatusTTL (§4.14 "task status records are evicted after a
// TTL").
type StatusStore struct {
	c *cache.Cache
}

func newStatusStore() *StatusStore {
	return &StatusStore{c: cache.NewWithConfig(cache.DefaultMaxSize, consts.TaskStatusTTL, consts.TaskStatusSweepPeriod)}
}

func (s *StatusStore) create(taskID string) *TaskStatus {
	st := &TaskStatus{Status: consts.TaskStatusPending, CreatedAt: time.Now()}
	s.c.Set(taskID, st)
	return st
}

// Get returns the status record for taskID, or {status: not_found}.
func (s *StatusStore) Get(taskID string) *TaskStatus {
	v, ok := s.c.Get(taskID)
	if !ok {
		return &TaskStatus{Status: consts.TaskStatusNotFound}
	}
	st, ok := v.(*TaskStatus)
	if !ok {
		return &TaskStatus{Status: consts.TaskStatusNotFound}
	}
	return st
}

// snapshot returns every live (task_id, status) pair, for QueueStatus.
func (s *StatusStore) snapshot() map[string]*TaskStatus {
	out := make(map[string]*TaskStatus)
	for _, key := range s.c.Keys() {
		if v, ok := s.c.Get(key); ok {
			if st, ok := v.(*TaskStatus); ok {
				out[key] = st
			}
		}
	}
	return out
}

// AggregateStatus is the queue_status() response (§4.14).
type AggregateStatus struct {
	PendingCount    int
	ProcessingTasks []string
	CompletedTasks  []string
	FailedTasks     []string
	WorkerAlive     bool
}

// Manager ties the FIFO queue, the status TTL map and the background
// worker into the C6/C14 public surface.
type Manager struct {
	queue    *Queue
	status   *StatusStore
	worker   *worker
	workerWG sync.WaitGroup
	mu       sync.Mutex
	alive    bool
}

// NewManager builds a Manager. The worker is not started until Run.
func NewManager(deps WorkerDeps) *Manager {
	q := newQueue()
	st := newStatusStore()
	return &Manager{
		queue:  q,
		status: st,
		worker: newWorker(q, st, deps),
	}
}

// Run starts the single background worker. Calling Run twice is a no-op.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alive {
		return
	}
	m.alive = true
	m.workerWG.Add(1)
	go func() {
		defer m.workerWG.Done()
		m.worker.loop(ctx)
		m.mu.Lock()
		m.alive = false
		m.mu.Unlock()
	}()
}

// Stop enqueues a shutdown sentinel behind any already-queued jobs and
// waits for the worker to drain and exit.
func (m *Manager) Stop() {
	m.queue.push(&job{shutdown: true})
	m.workerWG.Wait()
}

// Enqueue queues a scrape job for username and returns its task_id
// ({username}_{unix_ms}, §4.6).
func (m *Manager) Enqueue(username, userID string) string {
	taskID := fmt.Sprintf("%s_%d", username, time.Now().UnixMilli())
	m.status.create(taskID)
	m.queue.push(&job{taskID: taskID, username: username, userID: userID})
	if m.worker.metrics != nil {
		m.worker.metrics.RecordJobQueued("deep_scrape", m.queue.Depth())
	}
	return taskID
}

// Status returns the status record for a task_id.
func (m *Manager) Status(taskID string) *TaskStatus {
	return m.status.Get(taskID)
}

// QueueStatus aggregates pending/processing/completed/failed tasks and
// worker liveness (§4.14). Pending count reflects the FIFO queue depth
// directly rather than draining and refilling it, since Go queues don't
// need that workaround to inspect their own length.
func (m *Manager) QueueStatus() AggregateStatus {
	agg := AggregateStatus{PendingCount: m.queue.Depth()}

	m.mu.Lock()
	agg.WorkerAlive = m.alive
	m.mu.Unlock()

	for taskID, st := range m.status.snapshot() {
		switch st.Status {
		case consts.TaskStatusProcessing:
			agg.ProcessingTasks = append(agg.ProcessingTasks, taskID)
		case consts.TaskStatusCompleted:
			agg.CompletedTasks = append(agg.CompletedTasks, taskID)
		case consts.TaskStatusFailed:
			agg.FailedTasks = append(agg.FailedTasks, taskID)
		}
	}
	return agg
}
