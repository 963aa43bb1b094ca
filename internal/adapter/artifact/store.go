// Package artifact stores screenshot bytes on the local filesystem with a
// SQLite index of versions. Layout: <root>/<session>/shot_<version>.jpg,
// plus a latest.jpg copy per session.
package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pagelens/internal/domain"
)

// Config holds local store settings.
type Config struct {
	// Dir is the artifact root directory, created if missing.
	Dir string
	// IndexPath overrides the sqlite index location. Empty places it
	// under Dir.
	IndexPath string
	// MaxPerSession caps stored versions per session, oldest removed
	// first. Zero keeps everything.
	MaxPerSession int
}

// Store implements domain.ArtifactStore on local files plus sqlite.
type Store struct {
	db     *sql.DB
	root   string
	maxPer int
	logger *slog.Logger
}

var _ domain.ArtifactStore = (*Store)(nil)

// NewStore opens (or creates) the artifact root and its index database.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	indexPath := cfg.IndexPath
	if indexPath == "" {
		indexPath = filepath.Join(root, "index.db")
	}
	db, err := sql.Open("sqlite", indexPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact index: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate artifact index: %w", err)
	}
	return &Store{
		db:     db,
		root:   root,
		maxPer: cfg.MaxPerSession,
		logger: logger,
	}, nil
}

func migrate(db *sql.DB) error {
	// created_at is unix nanoseconds so retention cutoffs compare
	// numerically in SQL.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS screenshots (
			session    TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			path       TEXT    NOT NULL,
			bytes      INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session, version)
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS idx_screenshots_created ON screenshots(created_at)")
	return err
}

// Close closes the underlying index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes one screenshot version and updates the latest.jpg alias.
// Re-saving an existing version overwrites it.
func (s *Store) Save(ctx context.Context, sessionKey string, version int, data []byte) (*domain.Artifact, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	if version <= 0 {
		return nil, domain.NewSubSystemError("artifact", "Store.Save", domain.ErrInvalidInput,
			fmt.Sprintf("version %d: versions start at 1", version))
	}

	dir := filepath.Join(s.root, sessionKey)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("shot_%d.jpg", version))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("write screenshot: %w", err)
	}
	// latest.jpg is a copy, not a symlink: it survives pruning of the
	// version it came from and works on filesystems without symlinks.
	latest := filepath.Join(dir, "latest.jpg")
	if err := os.WriteFile(latest, data, 0600); err != nil {
		return nil, fmt.Errorf("write latest alias: %w", err)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screenshots (session, version, path, bytes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session, version) DO UPDATE SET
			path = excluded.path, bytes = excluded.bytes, created_at = excluded.created_at
	`, sessionKey, version, path, len(data), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("index screenshot: %w", err)
	}

	if s.maxPer > 0 {
		if err := s.pruneSession(ctx, sessionKey); err != nil {
			s.logger.Warn("screenshot prune failed",
				"session", sessionKey,
				"error", err,
			)
		}
	}

	return &domain.Artifact{
		SessionKey: sessionKey,
		Version:    version,
		Path:       path,
		Bytes:      len(data),
		CreatedAt:  now,
	}, nil
}

// Latest returns the newest stored artifact for a session.
func (s *Store) Latest(ctx context.Context, sessionKey string) (*domain.Artifact, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT session, version, path, bytes, created_at
		FROM screenshots WHERE session = ?
		ORDER BY version DESC LIMIT 1
	`, sessionKey)
	a, err := scanArtifact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewSubSystemError("artifact", "Store.Latest", domain.ErrNotFound,
				fmt.Sprintf("no screenshots stored for session %q", sessionKey))
		}
		return nil, err
	}
	return a, nil
}

// List returns a session's stored artifacts, newest first.
func (s *Store) List(ctx context.Context, sessionKey string) ([]domain.Artifact, error) {
	if err := validateKey(sessionKey); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session, version, path, bytes, created_at
		FROM screenshots WHERE session = ?
		ORDER BY version DESC
	`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var ns int64
		if err := rows.Scan(&a.SessionKey, &a.Version, &a.Path, &a.Bytes, &ns); err != nil {
			return nil, err
		}
		a.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune removes artifacts older than retention across all sessions and
// returns how many were removed. Sessions left with no versions also lose
// their latest.jpg alias.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UnixNano()

	rows, err := s.db.QueryContext(ctx,
		"SELECT session, version, path FROM screenshots WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	type victim struct {
		session string
		version int
		path    string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.session, &v.version, &v.path); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	sessions := make(map[string]bool)
	for _, v := range victims {
		s.removeFile(v.path)
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM screenshots WHERE session = ? AND version = ?", v.session, v.version); err != nil {
			return 0, err
		}
		sessions[v.session] = true
	}

	for session := range sessions {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM screenshots WHERE session = ?", session).Scan(&n); err != nil {
			continue
		}
		if n == 0 {
			dir := filepath.Join(s.root, session)
			s.removeFile(filepath.Join(dir, "latest.jpg"))
			// Best effort: leaves the directory if anything else is in it.
			_ = os.Remove(dir)
		}
	}

	return len(victims), nil
}

// pruneSession drops versions beyond the newest maxPer for one session.
func (s *Store) pruneSession(ctx context.Context, sessionKey string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, path FROM screenshots WHERE session = ?
		ORDER BY version DESC LIMIT -1 OFFSET ?
	`, sessionKey, s.maxPer)
	if err != nil {
		return err
	}
	type victim struct {
		version int
		path    string
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.version, &v.path); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		s.removeFile(v.path)
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM screenshots WHERE session = ? AND version = ?", sessionKey, v.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("artifact file removal failed",
			"path", path,
			"error", err,
		)
	}
}

func scanArtifact(row *sql.Row) (*domain.Artifact, error) {
	var a domain.Artifact
	var ns int64
	if err := row.Scan(&a.SessionKey, &a.Version, &a.Path, &a.Bytes, &ns); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, ns).UTC()
	return &a, nil
}

// validateKey rejects keys that could escape the artifact root. Session
// keys double as directory names.
func validateKey(key string) error {
	if key == "" {
		return domain.NewSubSystemError("artifact", "Store", domain.ErrInvalidInput,
			"session key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return domain.NewSubSystemError("artifact", "Store", domain.ErrInvalidInput,
			fmt.Sprintf("session key %q contains unsafe characters", key))
	}
	if len(key) > 128 {
		return domain.NewSubSystemError("artifact", "Store", domain.ErrInvalidInput,
			fmt.Sprintf("session key too long: %d chars (max 128)", len(key)))
	}
	return nil
}
