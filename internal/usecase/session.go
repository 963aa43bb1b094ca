package usecase

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oklog/ulid/v2"

	"pagelens/internal/domain"
)

// Session is one live browser bound to a caller-chosen session key. The
// registry hands out the same Session for a key until it is released or
// swept; the instance ID changes on every fresh construction.
type Session struct {
	Key string
	ID  string // ULID (internal, unique per construction)

	driver domain.Driver

	mu           sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time
	url          string
	title        string
	generation   string         // page-map generation the stamped refs belong to
	refTags      map[int]string // ref -> tag recorded at stamp time
	shotVersion  int
	navLimiter   *rate.Limiter
}

// newSession wraps a freshly constructed driver. navLimiter may be nil,
// meaning navigation is not rate-limited.
func newSession(key string, drv domain.Driver, navLimiter *rate.Limiter) *Session {
	now := time.Now()
	return &Session{
		Key:          key,
		ID:           generateULID(now),
		driver:       drv,
		createdAt:    now,
		lastActivity: now,
		navLimiter:   navLimiter,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// validateSessionKey checks that a session key is safe for filesystem use.
// Keys name artifact directories, so path separators, parent references,
// and null bytes are rejected.
func validateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}

	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("session key contains path separators: %q", key)
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("session key contains parent directory reference: %q", key)
	}

	if strings.Contains(key, "\x00") {
		return fmt.Errorf("session key contains null byte: %q", key)
	}

	if clean := filepath.Clean(key); clean != key {
		return fmt.Errorf("session key not a clean path: %q vs %q", key, clean)
	}

	return nil
}

// Driver returns the browser behind this session. Callers must serialize
// driver use through Registry.Do.
func (s *Session) Driver() domain.Driver {
	return s.driver
}

// Touch refreshes the last-activity time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns when the session last ran an action.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// SetLocation records the page URL and title observed by the last snapshot.
func (s *Session) SetLocation(url, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.title = title
}

// Location returns the last observed page URL and title.
func (s *Session) Location() (url, title string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url, s.title
}

// SetRefTable commits a new page-map generation and its ref -> tag table,
// invalidating every ref from earlier generations.
func (s *Session) SetRefTable(generation string, refTags map[int]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation = generation
	s.refTags = refTags
}

// Generation returns the current page-map generation, or "" before the
// first page map.
func (s *Session) Generation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// RefTag looks up the tag recorded for ref in the current generation.
func (s *Session) RefTag(ref int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tag, ok := s.refTags[ref]
	return tag, ok
}

// RefCount returns the number of refs in the current generation.
func (s *Session) RefCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refTags)
}

// NextScreenshotVersion increments and returns the screenshot counter.
func (s *Session) NextScreenshotVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shotVersion++
	return s.shotVersion
}

// ScreenshotVersion returns the number of screenshots taken so far.
func (s *Session) ScreenshotVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shotVersion
}

// AllowNavigate consumes one navigation token. It reports false when the
// per-session navigation rate limit is exhausted.
func (s *Session) AllowNavigate() bool {
	if s.navLimiter == nil {
		return true
	}
	return s.navLimiter.Allow()
}

// Info snapshots the observable session state. busy is supplied by the
// caller because lock ownership lives in the registry, not the session.
func (s *Session) Info(busy bool) domain.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionInfo{
		Key:               s.Key,
		ID:                s.ID,
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		URL:               s.url,
		Title:             s.title,
		Generation:        s.generation,
		ScreenshotVersion: s.shotVersion,
		Busy:              busy,
	}
}
