package session

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbridge/wa-gateway/internal/driver"
	"github.com/chatbridge/wa-gateway/internal/events"
	"github.com/chatbridge/wa-gateway/internal/gwerr"
	"github.com/chatbridge/wa-gateway/internal/metrics"
)

// Config holds registry-wide settings.
type Config struct {
	DataDir        string        // root data directory; auth material under sessions/<id>/
	DefaultTTL     time.Duration // session lifetime when the caller does not pick one
	CountryCode    string        // default country code for target normalization
	ConnectTimeout time.Duration // ceiling on backend connect
	DestroyTimeout time.Duration // ceiling on backend disconnect during removal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:        "./data",
		DefaultTTL:     24 * time.Hour,
		CountryCode:    "1",
		ConnectTimeout: 45 * time.Second,
		DestroyTimeout: 15 * time.Second,
	}
}

// Registry owns the id -> session map. It is the only component that
// creates, mutates, and removes sessions; everything else observes through
// projections or operates through the registry's methods.
type Registry struct {
	cfg     Config
	factory driver.Factory
	feed    *events.Feed // nil-safe: no feed means no event fan-out

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. feed may be nil.
func NewRegistry(cfg Config, factory driver.Factory, feed *events.Feed) *Registry {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	return &Registry{
		cfg:      cfg,
		factory:  factory,
		feed:     feed,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session and starts its backend connection in the
// background. It returns immediately with the initializing projection;
// readiness is observed through later Get calls or the event feed. A ttl of
// 0 uses the registry default. The deadline is fixed at creation and never
// extended by activity.
func (r *Registry) Create(ctx context.Context, owner string, ttl time.Duration) (Info, error) {
	if owner == "" {
		owner = "anonymous"
	}
	if ttl <= 0 {
		ttl = r.cfg.DefaultTTL
	}

	id := uuid.NewString()
	authDir := filepath.Join(r.cfg.DataDir, "sessions", id)
	if err := os.MkdirAll(authDir, 0o755); err != nil {
		return Info{}, gwerr.Wrap(gwerr.KindDriverFailure, err, "create auth directory")
	}

	client, err := r.factory(id, authDir)
	if err != nil {
		return Info{}, gwerr.Wrap(gwerr.KindDriverFailure, err, "create driver backend")
	}

	now := time.Now()
	entry := &Session{
		id:        id,
		owner:     owner,
		status:    StatusInitializing,
		createdAt: now,
		expiresAt: now.Add(ttl),
		lastSeen:  now,
		authDir:   authDir,
	}

	adapterCfg := driver.AdapterConfig{
		CountryCode:    r.cfg.CountryCode,
		ConnectTimeout: r.cfg.ConnectTimeout,
		DestroyTimeout: r.cfg.DestroyTimeout,
	}
	entry.adapter = driver.NewAdapter(id, client, adapterCfg, func(ev driver.Event) {
		r.handleEvent(id, ev)
	})

	r.mu.Lock()
	r.sessions[id] = entry
	r.mu.Unlock()

	// Snapshot before the adapter starts so the caller always sees the
	// initializing projection, however fast the backend connects.
	info := entry.snapshot()

	metrics.SessionsActive.Inc()
	entry.adapter.Start()

	log.Printf("[registry] created session=%s owner=%s expires=%s", id, owner, entry.expiresAt.Format(time.RFC3339))
	return info, nil
}

// handleEvent applies a driver lifecycle event to its session. Events for
// sessions already removed from the registry are dropped.
func (r *Registry) handleEvent(id string, ev driver.Event) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if !entry.apply(ev) {
		log.Printf("[registry] session=%s ignoring event %s in status %s", id, ev.Type, entry.currentStatus())
		return
	}

	info := entry.snapshot()
	metrics.SessionEvents.WithLabelValues(string(info.Status)).Inc()
	log.Printf("[registry] session=%s status=%s", id, info.Status)

	if r.feed != nil {
		r.feed.Publish(events.Event{
			SessionID: id,
			Status:    string(info.Status),
			Challenge: info.Challenge,
			Reason:    ev.Reason,
			Ts:        time.Now().Unix(),
		})
	}
}

// Get returns the projection of one session.
func (r *Registry) Get(id string) (Info, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Info{}, gwerr.New(gwerr.KindNotFound, "session %s not found", id)
	}
	return entry.snapshot(), nil
}

// List returns a snapshot of every session's projection.
func (r *Registry) List() []Info {
	r.mu.RLock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot())
	}
	return out
}

// Driver returns the adapter owned by a session, for send and export paths.
func (r *Registry) Driver(id string) (*driver.Adapter, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindNotFound, "session %s not found", id)
	}
	return entry.adapter, nil
}

// Send delivers a message through a session and refreshes its liveness
// timestamp on success.
func (r *Registry) Send(ctx context.Context, id, target, body string, media *driver.Media) (string, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return "", gwerr.New(gwerr.KindNotFound, "session %s not found", id)
	}

	msgID, err := entry.adapter.Send(ctx, target, body, media)
	if err != nil {
		return "", err
	}
	entry.touch()
	return msgID, nil
}

// Conversations lists a session's non-group conversations.
func (r *Registry) Conversations(ctx context.Context, id string, filter driver.ChatFilter) ([]driver.Conversation, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.KindNotFound, "session %s not found", id)
	}

	convs, err := entry.adapter.Conversations(ctx, filter)
	if err != nil {
		return nil, err
	}
	entry.touch()
	return convs, nil
}

// Touch refreshes a session's liveness timestamp. No-op on unknown ids.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		entry.touch()
	}
}

// Remove tears down a session and deletes it from the registry. Idempotent:
// returns false when the id is unknown. Teardown is best effort — the
// backend disconnect is time-bounded and its failure never blocks deletion;
// the per-session auth material is removed so the account must re-confirm on
// a future session.
func (r *Registry) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	metrics.SessionsActive.Dec()
	entry.adapter.Destroy(ctx)

	if err := os.RemoveAll(entry.authDir); err != nil {
		log.Printf("[registry] session=%s remove auth dir: %v (ignored)", id, err)
	}

	if r.feed != nil {
		r.feed.Publish(events.Event{
			SessionID: id,
			Status:    string(StatusDisconnected),
			Reason:    "removed",
			Ts:        time.Now().Unix(),
		})
	}

	log.Printf("[registry] removed session=%s", id)
	return true
}

// Close drains the registry at shutdown, destroying every backend
// connection. Auth material is left on disk so sessions can be restored by
// a future process.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*Session, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.adapter.Destroy(ctx)
		metrics.SessionsActive.Dec()
	}
	log.Printf("[registry] closed, %d sessions drained", len(entries))
}
