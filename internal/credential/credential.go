// Package credential rotates scraper credentials (cookie + user agent
// pairs) round-robin across a pool, keeping each cookie bound to the same
// user agent it was issued with so a session never appears to switch
// browsers mid-flight. No teacher file rotates credentials directly; this
// generalizes the teacher's mutex-guarded config-access pattern (seen
// throughout internal/github's *Manager types) to a pool instead of a
// single value.
package credential

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Pair is one sticky (cookie, user agent) binding.
type Pair struct {
	ID        string
	Cookie    string
	UserAgent string

	usageCount int64
	disabled   bool
}

// Rotator hands out Pairs round-robin, skipping any that have been
// disabled (e.g. after the owning session was logged out).
type Rotator struct {
	mu    sync.Mutex
	pairs []*Pair
	next  int
}

// NewRotator builds a Rotator from a set of (cookie, userAgent) tuples.
func NewRotator(bindings []Pair) *Rotator {
	r := &Rotator{}
	for _, b := range bindings {
		p := b
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		r.pairs = append(r.pairs, &p)
	}
	return r
}

// Next returns the next enabled pair in round-robin order. It returns
// false if the pool is empty or every pair has been disabled.
func (r *Rotator) Next() (*Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pairs) == 0 {
		return nil, false
	}

	for i := 0; i < len(r.pairs); i++ {
		idx := (r.next + i) % len(r.pairs)
		p := r.pairs[idx]
		if !p.disabled {
			r.next = (idx + 1) % len(r.pairs)
			p.usageCount++
			return p, true
		}
	}
	return nil, false
}

// Disable marks id as unusable; future Next calls skip it.
func (r *Rotator) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairs {
		if p.ID == id {
			p.disabled = true
			return
		}
	}
}

// Replace swaps out the pair at id for a fresh binding, used after a
// session refresh (C1) issues new cookies.
func (r *Rotator) Replace(id, cookie, userAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairs {
		if p.ID == id {
			p.Cookie = cookie
			p.UserAgent = userAgent
			p.disabled = false
			return nil
		}
	}
	return fmt.Errorf("credential pair %s not found", id)
}

// Size reports the pool size, enabled or not.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// EnabledCount reports how many pairs are currently usable.
func (r *Rotator) EnabledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.pairs {
		if !p.disabled {
			count++
		}
	}
	return count
}
