// Package parserconfig is the on-disk, hot-editable store backing the
// cookie pool, user-agent bindings and scrape timings (§4.13). It is a
// single JSON document rewritten atomically on every change, extending
// the teacher's plain ioutil.WriteFile config-writing convention
// (internal/github/manager.go) with the write-temp-then-rename
// durability the spec requires for a file edited at runtime instead of
// checked into a repo.
package parserconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/instarelay/instacore/internal/apperr"
	"github.com/instarelay/instacore/internal/credential"
)

// UserAgentBinding is the user-agent half of a cookie's sticky binding
// (§4.3: "each cookie is permanently bound to the first user-agent it
// is observed with").
type UserAgentBinding struct {
	UserAgent string `json:"user_agent"`
	DSUserID  string `json:"ds_user_id"`
}

// Timings holds the pacer knobs C13 exposes for runtime tuning,
// mirroring the fields internal/ratelimit's pacer is built from.
type Timings struct {
	BaseDelayMS int64   `json:"base_delay_ms"`
	JitterMax   float64 `json:"jitter_max"`
	ExtraMinMS  int64   `json:"extra_min_ms"`
	ExtraMaxMS  int64   `json:"extra_max_ms"`
}

// document is the on-disk shape: {cookies, user_agents, timings}.
// Cookies and UserAgents are parallel arrays — document.UserAgents[i]
// is the binding for document.Cookies[i].
type document struct {
	Cookies    []string           `json:"cookies"`
	UserAgents []UserAgentBinding `json:"user_agents"`
	Timings    Timings            `json:"timings"`
}

func defaultDocument() document {
	return document{
		Cookies:    []string{},
		UserAgents: []UserAgentBinding{},
		Timings: Timings{
			BaseDelayMS: 500,
			JitterMax:   1.0,
			ExtraMinMS:  0,
			ExtraMaxMS:  750,
		},
	}
}

// Snapshot is a read-only copy of the document handed back to callers,
// so they can't mutate the store's internal state without going
// through its CRUD surface.
type Snapshot struct {
	Cookies    []string
	UserAgents []UserAgentBinding
	Timings    Timings
}

// Store is the JSON-backed C13 config. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads path, seeding it with a default document (one placeholder
// cookie so the "at least one cookie must remain" invariant holds from
// the start) if it doesn't exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.doc = defaultDocument()
		s.doc.Cookies = append(s.doc.Cookies, "")
		s.doc.UserAgents = append(s.doc.UserAgents, UserAgentBinding{})
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parser config %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode parser config %s: %w", path, err)
	}
	s.doc = doc
	return s, nil
}

// persistLocked rewrites the config atomically: write to a sibling temp
// file, then rename over the target, so a reader never observes a
// half-written document (§4.13).
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parser config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parser config directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".parser_config-*.tmp")
	if err != nil {
		return fmt.Errorf("create parser config temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write parser config temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close parser config temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename parser config into place: %w", err)
	}
	return nil
}

// Snapshot returns the full current config (§4.13 "read full config").
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Cookies:    append([]string(nil), s.doc.Cookies...),
		UserAgents: append([]UserAgentBinding(nil), s.doc.UserAgents...),
		Timings:    s.doc.Timings,
	}
}

// GetCookie returns the cookie at index.
func (s *Store) GetCookie(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.doc.Cookies) {
		return "", apperr.New(apperr.KindValidation, fmt.Sprintf("cookie index %d out of range", index), nil)
	}
	return s.doc.Cookies[index], nil
}

// AddCookie appends a new cookie with its bound user-agent.
func (s *Store) AddCookie(cookie string, binding UserAgentBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cookies = append(s.doc.Cookies, cookie)
	s.doc.UserAgents = append(s.doc.UserAgents, binding)
	return s.persistLocked()
}

// RemoveCookie deletes the cookie (and its user-agent binding) at
// index. Refuses when it would empty the pool (§4.13, §8).
func (s *Store) RemoveCookie(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.doc.Cookies) {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("cookie index %d out of range", index), nil)
	}
	if len(s.doc.Cookies) <= 1 {
		return apperr.New(apperr.KindValidation, "at least one cookie must remain", nil)
	}
	s.doc.Cookies = append(s.doc.Cookies[:index], s.doc.Cookies[index+1:]...)
	s.doc.UserAgents = append(s.doc.UserAgents[:index], s.doc.UserAgents[index+1:]...)
	return s.persistLocked()
}

// UpdateCookie replaces the cookie at index, keeping its user-agent
// binding unchanged.
func (s *Store) UpdateCookie(index int, cookie string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.doc.Cookies) {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("cookie index %d out of range", index), nil)
	}
	s.doc.Cookies[index] = cookie
	return s.persistLocked()
}

// GetUserAgent returns the user-agent binding at index.
func (s *Store) GetUserAgent(index int) (UserAgentBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.doc.UserAgents) {
		return UserAgentBinding{}, apperr.New(apperr.KindValidation, fmt.Sprintf("user-agent index %d out of range", index), nil)
	}
	return s.doc.UserAgents[index], nil
}

// UpdateUserAgent replaces the user-agent binding at index.
func (s *Store) UpdateUserAgent(index int, binding UserAgentBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.doc.UserAgents) {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("user-agent index %d out of range", index), nil)
	}
	s.doc.UserAgents[index] = binding
	return s.persistLocked()
}

// UpdateTimings overwrites the pacer timing knobs.
func (s *Store) UpdateTimings(t Timings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Timings = t
	return s.persistLocked()
}

// ResetToDefaults restores the default timings and clears the cookie
// pool back to a single empty placeholder, preserving the "at least
// one cookie" invariant.
func (s *Store) ResetToDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = defaultDocument()
	s.doc.Cookies = append(s.doc.Cookies, "")
	s.doc.UserAgents = append(s.doc.UserAgents, UserAgentBinding{})
	return s.persistLocked()
}

// Bindings projects the current cookie/user-agent pairs into
// credential.Pair values, ready for credential.NewRotator.
func (s *Store) Bindings() []credential.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([]credential.Pair, 0, len(s.doc.Cookies))
	for i, cookie := range s.doc.Cookies {
		var ua string
		if i < len(s.doc.UserAgents) {
			ua = s.doc.UserAgents[i].UserAgent
		}
		pairs = append(pairs, credential.Pair{Cookie: cookie, UserAgent: ua})
	}
	return pairs
}
