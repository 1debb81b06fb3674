// Package supervisor wires the fleet together at process start/stop and
// owns session recovery.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sellkit/connector/internal/config"
	"github.com/sellkit/connector/internal/domain"
	"github.com/sellkit/connector/internal/pipeline"
	"github.com/sellkit/connector/internal/registry"
	"github.com/sellkit/connector/internal/store"
	"github.com/sellkit/connector/internal/whatsapp"
)

type Supervisor struct {
	cfg      *config.Config
	store    *store.SnapshotStore
	registry *registry.Registry
	pipe     *pipeline.Pipeline

	restoring    atomic.Bool
	stopAutosave context.CancelFunc
	cleanupTimer *time.Timer
}

func New(cfg *config.Config, st *store.SnapshotStore, reg *registry.Registry, pipe *pipeline.Pipeline) *Supervisor {
	return &Supervisor{cfg: cfg, store: st, registry: reg, pipe: pipe}
}

// Initialize restores sessions from the last snapshot, starts periodic
// snapshotting and schedules orphan cleanup after the restored sessions
// have had time to begin reconnecting.
func (s *Supervisor) Initialize(ctx context.Context) error {
	autosaveCtx, cancel := context.WithCancel(context.Background())
	s.stopAutosave = cancel
	s.registry.StartAutosave(autosaveCtx, s.cfg.SnapshotInterval)

	restored, err := s.RestoreSessions(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	slog.Info("fleet initialized", "restored", restored)

	// Cleanup is deferred so a reconnect attempt is never racing a
	// deletion of its own auth artifacts.
	s.cleanupTimer = time.AfterFunc(s.cfg.CleanupDelay, s.cleanupOrphans)
	return nil
}

// RestoreSessions reconstructs sessions from the persisted snapshot.
// Sessions failing integrity validation are skipped, not destroyed, so an
// operator can inspect and retry. Concurrent runs are rejected.
func (s *Supervisor) RestoreSessions(ctx context.Context) (int, error) {
	if !s.restoring.CompareAndSwap(false, true) {
		return 0, domain.ErrRestorationInProgress
	}
	defer s.restoring.Store(false)

	snapshot, err := s.store.Load()
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}

	restored := 0
	for id, entry := range snapshot {
		if err := s.store.ValidateIntegrity(id, entry, s.cfg.RecencyWindow); err != nil {
			slog.Warn("skipping session on failed integrity validation",
				"session_id", id, "reason", err)
			continue
		}

		_, err := s.registry.Create(ctx, id, entry.OwnerID, s.OnMessage, registry.CreateOptions{
			Async:    true,
			Restored: true,
		})
		if err != nil {
			// One failing session must not stop the fleet.
			slog.Error("restore session failed", "session_id", id, "error", err)
			continue
		}
		restored++
	}
	return restored, nil
}

func (s *Supervisor) cleanupOrphans() {
	active := s.registry.ActiveIDs()
	removed, err := s.store.CleanupOrphanedAuthDirs(active, s.cfg.CleanupGrace)
	if err != nil {
		slog.Warn("orphaned auth cleanup skipped", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("orphaned auth cleanup complete", "removed", removed)
	}
}

// OnMessage is the default inbound callback bound to every session: it runs
// the inbound pipeline against the session's own client.
func (s *Supervisor) OnMessage(ctx context.Context, sessionID, ownerID string, client whatsapp.Client, msg domain.InboundMessage) {
	s.pipe.Handle(ctx, sessionID, ownerID, client, msg)
}

// CreateSession registers a new session for an owner with the default
// inbound callback.
func (s *Supervisor) CreateSession(ctx context.Context, id, ownerID string, async bool) (domain.SessionStatus, error) {
	return s.registry.Create(ctx, id, ownerID, s.OnMessage, registry.CreateOptions{Async: async})
}

// DestroySession tears one session down.
func (s *Supervisor) DestroySession(ctx context.Context, id string) {
	s.registry.ForceDestroy(ctx, id)
}

// SessionStatus returns the read-only projection for one session.
func (s *Supervisor) SessionStatus(id string) (domain.SessionStatus, error) {
	return s.registry.Status(id)
}

// Shutdown stops background work and persists the final snapshot. Clients
// are disconnected but not logged out, so the next start can resume them.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
	}
	if s.stopAutosave != nil {
		s.stopAutosave()
	}
	s.registry.Shutdown(ctx)
	slog.Info("fleet shut down")
}
