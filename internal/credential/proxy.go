package credential

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProxyEntry is an in-memory mirror of a database.ProxyResource row, used
// by ProxyManager to pick the least-recently-used proxy without a round
// trip on every scrape request.
type ProxyEntry struct {
	ID         string
	ProxyURL   string
	Cookie     string
	UserAgent  string
	UsageCount int64
	LastUsedAt time.Time
}

// ProxyManager is the optional extension mentioned in the spec's proxy
// rotation note: it picks the proxy with the lowest usage count each time,
// approximating an LRU policy so load spreads evenly across the pool
// instead of sticking to one proxy until it gets banned.
type ProxyManager struct {
	mu      sync.Mutex
	entries map[string]*ProxyEntry
}

// NewProxyManager creates an empty manager; entries are added with Add.
func NewProxyManager() *ProxyManager {
	return &ProxyManager{entries: make(map[string]*ProxyEntry)}
}

// Add registers a proxy, assigning it a freshly generated opaque id.
func (m *ProxyManager) Add(proxyURL, cookie, userAgent string) *ProxyEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &ProxyEntry{
		ID:        uuid.NewString(),
		ProxyURL:  proxyURL,
		Cookie:    cookie,
		UserAgent: userAgent,
	}
	m.entries[e.ID] = e
	return e
}

// LeastUsed returns the proxy with the smallest usage count, breaking ties
// by oldest LastUsedAt. Returns false if the pool is empty.
func (m *ProxyManager) LeastUsed() (*ProxyEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *ProxyEntry
	for _, e := range m.entries {
		if best == nil || e.UsageCount < best.UsageCount ||
			(e.UsageCount == best.UsageCount && e.LastUsedAt.Before(best.LastUsedAt)) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}

	best.UsageCount++
	best.LastUsedAt = time.Now()
	return best, true
}

// Remove drops a proxy from the pool, e.g. after it gets banned.
func (m *ProxyManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// Size reports the pool size.
func (m *ProxyManager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
