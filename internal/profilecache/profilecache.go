// Package profilecache wraps internal/database with the freshness
// semantics C5/C6 need: a profile fetched within the last TTL is served
// as-is; anything older is still returned (callers want the latest known
// snapshot immediately) but flagged stale so the caller knows to kick off
// a re-scrape.
package profilecache

import (
	"time"

	"github.com/instarelay/instacore/internal/database"
)

// Store is the subset of *database.DB this package depends on, split out
// so tests can exercise the freshness policy against a fake instead of a
// live Postgres connection.
type Store interface {
	GetProfileByUsername(username string) (*database.InstagramProfile, error)
	UpsertProfile(username string, patch database.ProfilePatch) (*database.InstagramProfile, error)
	MarkProfileStale(username string) error
	SetParseStatus(username, status, taskID string) error
	SetParseFailure(username, errMsg string) error
}

// Policy wraps a Store with a configurable freshness TTL.
type Policy struct {
	db  Store
	ttl time.Duration
}

// New creates a Policy with the given freshness TTL.
func New(db Store, ttl time.Duration) *Policy {
	return &Policy{db: db, ttl: ttl}
}

// Lookup returns the stored profile for username (lowercased by the
// caller) and whether it's still fresh.
func (p *Policy) Lookup(username string) (*database.InstagramProfile, bool, error) {
	profile, err := p.db.GetProfileByUsername(username)
	if err != nil {
		return nil, false, err
	}
	if profile == nil {
		return nil, false, nil
	}

	fresh := profile.LastScraped != nil && time.Since(*profile.LastScraped) < p.ttl
	return profile, fresh, nil
}

// Upsert merges patch into the stored profile, refreshing last_scraped
// and scrape_count (§4.8).
func (p *Policy) Upsert(username string, patch database.ProfilePatch) (*database.InstagramProfile, error) {
	return p.db.UpsertProfile(username, patch)
}

// MarkStale flags a profile as no longer fresh without touching its
// timestamps.
func (p *Policy) MarkStale(username string) error {
	return p.db.MarkProfileStale(username)
}

// SetParseStatus updates the parse state/task id, stamping the
// followers/followings-parsed timestamps on completion.
func (p *Policy) SetParseStatus(username, status, taskID string) error {
	return p.db.SetParseStatus(username, status, taskID)
}

// SetParseFailure transitions a profile to failed and records the error.
func (p *Policy) SetParseFailure(username, errMsg string) error {
	return p.db.SetParseFailure(username, errMsg)
}
