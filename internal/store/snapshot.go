// Package store persists session snapshots and manages on-disk auth
// artifacts.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/sellkit/connector/internal/domain"
)

// SnapshotStore writes the full registry state to a single human-readable
// JSON file. Every save is a whole-file overwrite through a temp path and
// rename, so readers never observe a partial write.
type SnapshotStore struct {
	path     string
	authRoot string
}

func New(path, authRoot string) *SnapshotStore {
	return &SnapshotStore{path: path, authRoot: authRoot}
}

// Save serializes the given sessions, replacing the previous snapshot
// entirely.
func (s *SnapshotStore) Save(sessions map[string]domain.SessionSnapshot) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file is a normal first-run
// condition and returns an empty map.
func (s *SnapshotStore) Load() (map[string]domain.SessionSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.SessionSnapshot{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	sessions := map[string]domain.SessionSnapshot{}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return sessions, nil
}

// AuthDir returns the directory holding a session's auth artifacts.
func (s *SnapshotStore) AuthDir(id string) string {
	return filepath.Join(s.authRoot, id)
}

// HasAuthArtifacts reports whether a session still has auth artifacts on
// disk.
func (s *SnapshotStore) HasAuthArtifacts(id string) bool {
	info, err := os.Stat(s.AuthDir(id))
	return err == nil && info.IsDir()
}

// RemoveAuthArtifacts deletes a session's auth artifacts.
func (s *SnapshotStore) RemoveAuthArtifacts(id string) error {
	if err := os.RemoveAll(s.AuthDir(id)); err != nil {
		return fmt.Errorf("remove auth artifacts for %s: %w", id, err)
	}
	return nil
}

// ValidateIntegrity decides whether a restored session is eligible for
// reconnection. A failing session is skipped by the caller, never deleted,
// so an operator can inspect and retry after a transient validation error.
func (s *SnapshotStore) ValidateIntegrity(id string, entry domain.SessionSnapshot, recency time.Duration) error {
	if !s.HasAuthArtifacts(id) {
		return fmt.Errorf("session %s: auth artifacts missing on disk", id)
	}
	if time.Since(entry.LastActivityAt) > recency {
		return fmt.Errorf("session %s: last activity %s exceeds recency window %s",
			id, entry.LastActivityAt.Format(time.RFC3339), recency)
	}
	if !entry.Status.Restorable() {
		return fmt.Errorf("session %s: status %q is not restorable", id, entry.Status)
	}
	return nil
}

// CleanupOrphanedAuthDirs deletes auth artifacts that belong to no active
// session id. It refuses an empty active set outright, since an empty set
// must never be read as "delete everything", and leaves directories younger
// than the grace period alone so a session mid-creation is not destroyed.
// Returns the number of directories removed.
func (s *SnapshotStore) CleanupOrphanedAuthDirs(activeIDs []string, grace time.Duration) (int, error) {
	if len(activeIDs) == 0 {
		return 0, domain.ErrEmptyActiveSet
	}

	entries, err := os.ReadDir(s.authRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read auth root: %w", err)
	}

	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := active[entry.Name()]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			slog.Warn("stat orphaned auth dir", "dir", entry.Name(), "error", err)
			continue
		}
		if time.Since(info.ModTime()) < grace {
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.authRoot, entry.Name())); err != nil {
			slog.Error("remove orphaned auth dir", "dir", entry.Name(), "error", err)
			continue
		}
		slog.Info("removed orphaned auth dir", "dir", entry.Name())
		removed++
	}
	return removed, nil
}
