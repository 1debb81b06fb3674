// Package registry owns the in-memory fleet of sessions and their
// lifecycle transitions.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sellkit/connector/internal/config"
	"github.com/sellkit/connector/internal/domain"
	"github.com/sellkit/connector/internal/whatsapp"
)

// Persister is the durable side of the registry: snapshot writes and auth
// artifact removal.
type Persister interface {
	Save(sessions map[string]domain.SessionSnapshot) error
	RemoveAuthArtifacts(id string) error
}

// ConnectedNotifier is told when a session completes pairing.
type ConnectedNotifier interface {
	NotifySessionConnected(ctx context.Context, sessionID, phoneNumber, ownerID string) error
}

// MessageHandler consumes one session's inbound messages in arrival order.
type MessageHandler func(ctx context.Context, sessionID, ownerID string, client whatsapp.Client, msg domain.InboundMessage)

// CreateOptions controls session construction.
type CreateOptions struct {
	// Async returns immediately after the session is registered and
	// persisted; initialization failures surfacing later trigger forced
	// teardown. Synchronous mode blocks until connected or fails.
	Async bool
	// Restored marks a session reconstructed from a snapshot; it starts
	// in the reconnecting state.
	Restored bool
}

type session struct {
	id             string
	ownerID        string
	status         domain.Status
	qrPayload      string
	phoneNumber    string
	createdAt      time.Time
	lastActivityAt time.Time
	restoredAt     *time.Time

	client whatsapp.Client
	queue  chan domain.InboundMessage
	stop   chan struct{}

	// ready unblocks synchronous creation on the first connected or
	// fatal transition.
	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error
}

func (s *session) signalReady(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.ready)
	})
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	store          Persister
	factory        whatsapp.Factory
	notifier       ConnectedNotifier
	connectTimeout time.Duration
}

func New(store Persister, factory whatsapp.Factory, notifier ConnectedNotifier, connectTimeout time.Duration) *Registry {
	return &Registry{
		sessions:       make(map[string]*session),
		store:          store,
		factory:        factory,
		notifier:       notifier,
		connectTimeout: connectTimeout,
	}
}

// Create constructs and registers a new session. The session is persisted
// before the client is initialized so a crash right after creation is still
// recoverable.
func (r *Registry) Create(ctx context.Context, id, ownerID string, onMessage MessageHandler, opts CreateOptions) (domain.SessionStatus, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return domain.SessionStatus{}, fmt.Errorf("create session %s: %w", id, domain.ErrSessionExists)
	}

	now := time.Now()
	sess := &session{
		id:             id,
		ownerID:        ownerID,
		status:         domain.StatusInitializing,
		createdAt:      now,
		lastActivityAt: now,
		queue:          make(chan domain.InboundMessage, config.InboundQueueSize),
		stop:           make(chan struct{}),
		ready:          make(chan struct{}),
	}
	if opts.Restored {
		sess.status = domain.StatusReconnecting
		restoredAt := now
		sess.restoredAt = &restoredAt
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	client, err := r.factory(id, whatsapp.Handlers{
		OnQR:           func(code string) { r.handleQR(id, code) },
		OnConnected:    func(phone string) { r.handleConnected(id, phone) },
		OnMessage:      func(msg domain.InboundMessage) { r.enqueue(id, msg) },
		OnDisconnected: func() { r.handleDisconnected(id) },
		OnFatal:        func(err error) { r.handleFatal(id, err) },
	})
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return domain.SessionStatus{}, fmt.Errorf("construct client for %s: %w", id, err)
	}

	r.mu.Lock()
	sess.client = client
	r.persistLocked()
	r.mu.Unlock()

	go r.consume(sess, onMessage)

	if opts.Async {
		go func() {
			if err := client.Initialize(context.Background()); err != nil {
				slog.Error("async session initialize failed, tearing down",
					"session_id", id, "error", err)
				r.ForceDestroy(context.Background(), id)
			}
		}()
		status, _ := r.Status(id)
		return status, nil
	}

	if err := client.Initialize(ctx); err != nil {
		r.ForceDestroy(ctx, id)
		return domain.SessionStatus{}, fmt.Errorf("initialize session %s: %w", id, err)
	}

	select {
	case <-sess.ready:
	case <-time.After(r.connectTimeout):
		r.ForceDestroy(ctx, id)
		return domain.SessionStatus{}, fmt.Errorf("session %s: timed out waiting for connection", id)
	case <-ctx.Done():
		r.ForceDestroy(ctx, id)
		return domain.SessionStatus{}, ctx.Err()
	}
	if sess.readyErr != nil {
		r.ForceDestroy(ctx, id)
		return domain.SessionStatus{}, fmt.Errorf("session %s: %w", id, sess.readyErr)
	}

	status, err := r.Status(id)
	if err != nil {
		return domain.SessionStatus{}, fmt.Errorf("session %s torn down during creation", id)
	}
	return status, nil
}

// ForceDestroy tears a session down: best-effort client destroy, auth
// artifact removal, registry removal, snapshot persist. Idempotent; always
// succeeds from the caller's perspective.
func (r *Registry) ForceDestroy(_ context.Context, id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		close(sess.stop)
	}
	r.mu.Unlock()

	if ok && sess.client != nil {
		if err := sess.client.Destroy(); err != nil {
			slog.Warn("destroy client", "session_id", id, "error", err)
		}
	}
	if err := r.store.RemoveAuthArtifacts(id); err != nil {
		slog.Warn("remove auth artifacts", "session_id", id, "error", err)
	}

	r.mu.Lock()
	r.persistLocked()
	r.mu.Unlock()

	if ok {
		slog.Info("session destroyed", "session_id", id)
	}
}

// DestroyAllForOwner destroys every session belonging to one owner.
func (r *Registry) DestroyAllForOwner(ctx context.Context, ownerID string) int {
	r.mu.Lock()
	var ids []string
	for id, sess := range r.sessions {
		if sess.ownerID == ownerID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.ForceDestroy(ctx, id)
	}
	return len(ids)
}

// DestroyAll destroys every registered session.
func (r *Registry) DestroyAll(ctx context.Context) int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.ForceDestroy(ctx, id)
	}
	return len(ids)
}

// Status returns a read-only projection of one session. Never blocks on
// network activity.
func (r *Registry) Status(id string) (domain.SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return domain.SessionStatus{}, domain.ErrSessionNotFound
	}
	return domain.SessionStatus{
		SessionID:      sess.id,
		OwnerID:        sess.ownerID,
		Status:         sess.status,
		QRPayload:      sess.qrPayload,
		PhoneNumber:    sess.phoneNumber,
		LastActivityAt: sess.lastActivityAt,
		CreatedAt:      sess.createdAt,
		RestoredAt:     sess.restoredAt,
	}, nil
}

// ActiveIDs returns the ids of all registered sessions.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot projects the current registry contents for persistence.
func (r *Registry) Snapshot() map[string]domain.SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() map[string]domain.SessionSnapshot {
	now := time.Now()
	snap := make(map[string]domain.SessionSnapshot, len(r.sessions))
	for id, sess := range r.sessions {
		snap[id] = domain.SessionSnapshot{
			OwnerID:        sess.ownerID,
			Status:         sess.status,
			PhoneNumber:    sess.phoneNumber,
			LastActivityAt: sess.lastActivityAt,
			CreatedAt:      sess.createdAt,
			SavedAt:        now,
		}
	}
	return snap
}

func (r *Registry) persistLocked() {
	if err := r.store.Save(r.snapshotLocked()); err != nil {
		slog.Error("persist snapshot", "error", err)
	}
}

// StartAutosave persists the registry on a fixed interval as a safety net
// against missed explicit saves.
func (r *Registry) StartAutosave(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.mu.Lock()
				r.persistLocked()
				r.mu.Unlock()
			}
		}
	}()
}

// Shutdown persists the final state and disconnects all clients without
// removing their auth artifacts, so the next start can restore them.
func (r *Registry) Shutdown(_ context.Context) {
	r.mu.Lock()
	r.persistLocked()
	sessions := make([]*session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, sess := range sessions {
		close(sess.stop)
		if sess.client != nil {
			if err := sess.client.Destroy(); err != nil {
				slog.Warn("destroy client on shutdown", "session_id", sess.id, "error", err)
			}
		}
	}
	slog.Info("registry shut down", "sessions", len(sessions))
}

// consume drains one session's inbound queue sequentially, preserving
// per-session message order.
func (r *Registry) consume(sess *session, onMessage MessageHandler) {
	for {
		select {
		case <-sess.stop:
			return
		case msg := <-sess.queue:
			r.touch(sess.id)
			if onMessage != nil {
				onMessage(context.Background(), sess.id, sess.ownerID, sess.client, msg)
			}
		}
	}
}

func (r *Registry) enqueue(id string, msg domain.InboundMessage) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	select {
	case sess.queue <- msg:
	default:
		slog.Warn("inbound queue full, dropping event",
			"session_id", id, "message_id", msg.ID)
	}
}

func (r *Registry) touch(id string) {
	r.mu.Lock()
	if sess, ok := r.sessions[id]; ok {
		sess.lastActivityAt = time.Now()
	}
	r.mu.Unlock()
}

func (r *Registry) handleQR(id, code string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok || !sess.status.CanTransition(domain.StatusQRReady) {
		r.mu.Unlock()
		return
	}
	sess.status = domain.StatusQRReady
	sess.qrPayload = code
	r.persistLocked()
	r.mu.Unlock()

	slog.Info("pairing challenge received", "session_id", id)
}

func (r *Registry) handleConnected(id, phone string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !sess.status.CanTransition(domain.StatusConnected) {
		// Duplicate connected event from the transport.
		r.mu.Unlock()
		sess.signalReady(nil)
		return
	}
	sess.status = domain.StatusConnected
	sess.phoneNumber = phone
	sess.qrPayload = ""
	sess.lastActivityAt = time.Now()
	ownerID := sess.ownerID
	r.persistLocked()
	r.mu.Unlock()

	sess.signalReady(nil)
	slog.Info("session connected", "session_id", id, "phone_number", phone)

	if r.notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.ConnectedNotifyTimeout)
			defer cancel()
			if err := r.notifier.NotifySessionConnected(ctx, id, phone, ownerID); err != nil {
				slog.Error("session-connected notification failed",
					"session_id", id, "error", err)
			}
		}()
	}
}

func (r *Registry) handleDisconnected(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok || !sess.status.CanTransition(domain.StatusDisconnected) {
		r.mu.Unlock()
		return
	}
	sess.status = domain.StatusDisconnected
	r.persistLocked()
	r.mu.Unlock()

	slog.Warn("session transport lost", "session_id", id)
}

// handleFatal marks the session failed and forces teardown. Other sessions
// are unaffected.
func (r *Registry) handleFatal(id string, cause error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok && sess.status.CanTransition(domain.StatusError) {
		sess.status = domain.StatusError
		r.persistLocked()
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	slog.Error("unrecoverable session error, tearing down", "session_id", id, "error", cause)
	sess.signalReady(cause)
	r.ForceDestroy(context.Background(), id)
}
