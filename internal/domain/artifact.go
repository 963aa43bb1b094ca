package domain

import (
	"context"
	"time"
)

// Artifact describes one stored screenshot version.
type Artifact struct {
	SessionKey string    `json:"session_key"`
	Version    int       `json:"version"`
	Path       string    `json:"path"`
	Bytes      int       `json:"bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArtifactStore persists screenshot bytes per session and version. Stores
// keep a bounded number of versions per session and expire old entries.
type ArtifactStore interface {
	// Save writes one screenshot version and returns where it landed.
	Save(ctx context.Context, sessionKey string, version int, data []byte) (*Artifact, error)

	// Latest returns the most recent artifact for a session, or
	// ErrNotFound when none exists.
	Latest(ctx context.Context, sessionKey string) (*Artifact, error)

	// List returns a session's stored artifacts, newest first.
	List(ctx context.Context, sessionKey string) ([]Artifact, error)

	// Prune removes artifacts older than retention and returns how many
	// were removed.
	Prune(ctx context.Context, retention time.Duration) (int, error)

	Close() error
}
