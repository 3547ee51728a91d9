package driver

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatbridge/wa-gateway/internal/gwerr"
	"github.com/chatbridge/wa-gateway/internal/metrics"
)

// AdapterConfig holds per-adapter tuning knobs.
type AdapterConfig struct {
	CountryCode    string        // default country code for target normalization
	ConnectTimeout time.Duration // ceiling on the backend connect call
	DestroyTimeout time.Duration // ceiling on the backend disconnect call
	RetryAttempts  int           // conversation-listing attempts before a hard failure
	RetryBackoff   time.Duration // base backoff between listing attempts
}

// DefaultAdapterConfig returns sensible defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		CountryCode:    "1",
		ConnectTimeout: 45 * time.Second,
		DestroyTimeout: 15 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// Adapter owns one backend client for the lifetime of one session. It pumps
// backend lifecycle events to its sink and gates every request/response
// operation on the backend having reported ready. An Adapter is never shared
// between sessions.
type Adapter struct {
	sessionID string
	client    Client
	cfg       AdapterConfig
	onEvent   func(Event)

	mu    sync.Mutex
	phase EventType // last lifecycle event seen; "" until the first one

	destroyOnce sync.Once
}

// NewAdapter wraps client for the given session. onEvent receives every
// lifecycle event in order; it must not block for long.
func NewAdapter(sessionID string, client Client, cfg AdapterConfig, onEvent func(Event)) *Adapter {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Adapter{
		sessionID: sessionID,
		client:    client,
		cfg:       cfg,
		onEvent:   onEvent,
	}
}

// Start launches the asynchronous connect and the event pump. It returns
// immediately; lifecycle progress is reported through the event sink.
func (a *Adapter) Start() {
	go a.run()
}

func (a *Adapter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ConnectTimeout)
	err := a.client.Connect(ctx)
	cancel()
	if err != nil {
		a.emit(Event{Type: EventDisconnected, Reason: "connect: " + err.Error()})
		return
	}

	for ev := range a.client.Events() {
		a.emit(ev)
	}

	// The backend closed its event stream. Make sure the session lands in a
	// terminal state even if the backend never said goodbye.
	if !a.terminal() {
		a.emit(Event{Type: EventDisconnected, Reason: "event stream closed"})
	}
}

func (a *Adapter) emit(ev Event) {
	a.mu.Lock()
	a.phase = ev.Type
	a.mu.Unlock()
	a.onEvent(ev)
}

// Ready reports whether the backend has reached the ready state.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase == EventReady
}

func (a *Adapter) terminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase == EventAuthFailed || a.phase == EventDisconnected
}

// Send normalizes target and delivers a message through the backend,
// returning the external message id.
func (a *Adapter) Send(ctx context.Context, target, body string, media *Media) (string, error) {
	if !a.Ready() {
		return "", gwerr.New(gwerr.KindNotReady, "session %s is not ready", a.sessionID)
	}
	addr, err := NormalizeTarget(target, a.cfg.CountryCode)
	if err != nil {
		return "", err
	}
	id, err := a.client.Send(ctx, addr, body, media)
	if err != nil {
		return "", gwerr.Wrap(gwerr.KindDriverFailure, err, "send to %s failed", addr)
	}
	metrics.MessagesSent.Inc()
	return id, nil
}

// Conversations lists non-group conversations matching filter. The listing
// call is retried with linear backoff because the underlying automation
// surface fails transiently; after the attempts are exhausted the last error
// surfaces as a driver failure.
func (a *Adapter) Conversations(ctx context.Context, filter ChatFilter) ([]Conversation, error) {
	if !a.Ready() {
		return nil, gwerr.New(gwerr.KindNotReady, "session %s is not ready", a.sessionID)
	}

	var chats []Chat
	var err error
	for attempt := 1; attempt <= a.cfg.RetryAttempts; attempt++ {
		chats, err = a.client.Chats(ctx)
		if err == nil {
			break
		}
		if attempt == a.cfg.RetryAttempts {
			break
		}
		metrics.ConversationRetries.Inc()
		log.Printf("[driver] session=%s list chats attempt %d/%d failed: %v",
			a.sessionID, attempt, a.cfg.RetryAttempts, err)
		select {
		case <-ctx.Done():
			return nil, gwerr.Wrap(gwerr.KindDriverFailure, ctx.Err(), "list conversations aborted")
		case <-time.After(a.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindDriverFailure, err, "list conversations failed after %d attempts", a.cfg.RetryAttempts)
	}

	var cutoff time.Time
	if filter.Hours > 0 {
		cutoff = time.Now().Add(-time.Duration(filter.Hours) * time.Hour)
	}

	out := make([]Conversation, 0, len(chats))
	for _, c := range chats {
		if isGroupChat(c) {
			continue
		}
		if !cutoff.IsZero() && c.LastActivity.Before(cutoff) {
			continue
		}
		name := c.Name
		if name == "" {
			name = c.ID
		}
		out = append(out, Conversation{ID: c.ID, DisplayName: name, LastActivity: c.LastActivity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// isGroupChat excludes group and broadcast conversations both by the
// backend's flag and by the address form, since some backends only expose
// one of the two.
func isGroupChat(c Chat) bool {
	if c.IsGroup {
		return true
	}
	return strings.HasSuffix(c.ID, "@g.us") || strings.HasSuffix(c.ID, "@broadcast")
}

// Conversation resolves a single conversation by id.
func (a *Adapter) Conversation(ctx context.Context, chatID string) (Chat, error) {
	if !a.Ready() {
		return Chat{}, gwerr.New(gwerr.KindNotReady, "session %s is not ready", a.sessionID)
	}
	c, err := a.client.Chat(ctx, chatID)
	if err != nil {
		return Chat{}, gwerr.Wrap(gwerr.KindDriverFailure, err, "resolve conversation %s failed", chatID)
	}
	return c, nil
}

// History fetches up to limit messages for a conversation, oldest first.
func (a *Adapter) History(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if !a.Ready() {
		return nil, gwerr.New(gwerr.KindNotReady, "session %s is not ready", a.sessionID)
	}
	msgs, err := a.client.Messages(ctx, chatID, limit)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindDriverFailure, err, "fetch history for %s failed", chatID)
	}
	return msgs, nil
}

// Media downloads the payload attached to a message.
func (a *Adapter) Media(ctx context.Context, chatID, messageID string) (*Media, error) {
	if !a.Ready() {
		return nil, gwerr.New(gwerr.KindNotReady, "session %s is not ready", a.sessionID)
	}
	m, err := a.client.DownloadMedia(ctx, chatID, messageID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.KindDriverFailure, err, "download media for message %s failed", messageID)
	}
	return m, nil
}

// Destroy tears down the backend connection. Best effort: the disconnect is
// time-bounded and its error is logged and swallowed so a stuck backend can
// never block session removal. Safe to call any number of times.
func (a *Adapter) Destroy(ctx context.Context) {
	a.destroyOnce.Do(func() {
		dctx, cancel := context.WithTimeout(ctx, a.cfg.DestroyTimeout)
		defer cancel()
		if err := a.client.Disconnect(dctx); err != nil {
			log.Printf("[driver] session=%s disconnect: %v (ignored)", a.sessionID, err)
		}
		a.mu.Lock()
		a.phase = EventDisconnected
		a.mu.Unlock()
	})
}
