// Package simdriver implements driver.Client without any external service.
// It walks the real login flow (challenge, confirmation, ready), persists a
// credentials file in the session's auth directory so a recreated session
// skips the challenge, and serves seeded chats, messages, and media. It is
// the development and test backend; production deployments plug a real
// automation backend into the same driver.Client seam.
package simdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbridge/wa-gateway/internal/driver"
)

const credsFile = "creds.json"

// Options controls the simulated login flow and failure injection.
type Options struct {
	ChallengeDelay time.Duration // delay before the challenge is issued
	ConfirmDelay   time.Duration // delay between challenge and confirmation
	ReadyDelay     time.Duration // delay between confirmation and ready

	FailConnect  bool // Connect returns an error immediately
	FailAuth     bool // login ends in auth-failed instead of ready
	ChatsFailNum int  // first N Chats calls fail (exercises retry)
	FailMedia    bool // every DownloadMedia call fails
}

// Client is the simulated backend for one session.
type Client struct {
	sessionID string
	authDir   string
	opts      Options

	events chan driver.Event

	mu       sync.Mutex
	chats    map[string]driver.Chat
	messages map[string][]driver.Message
	media    map[string]driver.Media
	chatsErr int
	closed   bool

	closeOnce sync.Once
}

// New creates a simulated client bound to a session's auth directory.
func New(sessionID, authDir string, opts Options) *Client {
	return &Client{
		sessionID: sessionID,
		authDir:   authDir,
		opts:      opts,
		events:    make(chan driver.Event, 8),
		chats:     make(map[string]driver.Chat),
		messages:  make(map[string][]driver.Message),
		media:     make(map[string]driver.Media),
		chatsErr:  opts.ChatsFailNum,
	}
}

// Factory returns a driver.Factory producing simulated clients with opts.
func Factory(opts Options) driver.Factory {
	return func(sessionID, authDir string) (driver.Client, error) {
		return New(sessionID, authDir, opts), nil
	}
}

// Connect starts the simulated login flow. With persisted credentials the
// challenge step is skipped, mirroring a restored session.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.FailConnect {
		return fmt.Errorf("simdriver: connect refused")
	}
	restored := c.hasCreds()
	go c.login(restored)
	return nil
}

func (c *Client) login(restored bool) {
	if !restored {
		c.sleep(c.opts.ChallengeDelay)
		if !c.push(driver.Event{Type: driver.EventChallenge, Challenge: "sim-code-" + uuid.NewString()[:8]}) {
			return
		}
		c.sleep(c.opts.ConfirmDelay)
	}
	if c.opts.FailAuth {
		c.push(driver.Event{Type: driver.EventAuthFailed, Reason: "simulated credential rejection"})
		return
	}
	if !c.push(driver.Event{Type: driver.EventConfirmed}) {
		return
	}
	if err := c.writeCreds(); err != nil {
		c.push(driver.Event{Type: driver.EventAuthFailed, Reason: "persist credentials: " + err.Error()})
		return
	}
	c.sleep(c.opts.ReadyDelay)
	c.push(driver.Event{Type: driver.EventReady})
}

func (c *Client) sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// push delivers an event unless the client is already closed.
func (c *Client) push(ev driver.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

func (c *Client) hasCreds() bool {
	_, err := os.Stat(filepath.Join(c.authDir, credsFile))
	return err == nil
}

func (c *Client) writeCreds() error {
	if err := os.MkdirAll(c.authDir, 0o755); err != nil {
		return err
	}
	blob, _ := json.Marshal(map[string]any{
		"session_id": c.sessionID,
		"issued_at":  time.Now().Unix(),
	})
	return os.WriteFile(filepath.Join(c.authDir, credsFile), blob, 0o600)
}

// Events returns the lifecycle event stream.
func (c *Client) Events() <-chan driver.Event { return c.events }

// Send records nothing and returns a fresh external message id.
func (c *Client) Send(ctx context.Context, target, body string, media *driver.Media) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("simdriver: client closed")
	}
	return "sim-" + uuid.NewString(), nil
}

// Chats returns the seeded chat list, failing the first ChatsFailNum calls.
func (c *Client) Chats(ctx context.Context) ([]driver.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("simdriver: client closed")
	}
	if c.chatsErr > 0 {
		c.chatsErr--
		return nil, fmt.Errorf("simdriver: transient chat listing failure")
	}
	out := make([]driver.Chat, 0, len(c.chats))
	for _, chat := range c.chats {
		out = append(out, chat)
	}
	return out, nil
}

// Chat resolves a single seeded chat.
func (c *Client) Chat(ctx context.Context, chatID string) (driver.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return driver.Chat{}, fmt.Errorf("simdriver: client closed")
	}
	chat, ok := c.chats[chatID]
	if !ok {
		return driver.Chat{}, fmt.Errorf("simdriver: chat %s not found", chatID)
	}
	return chat, nil
}

// Messages returns up to limit seeded messages for a chat, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string, limit int) ([]driver.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("simdriver: client closed")
	}
	msgs, ok := c.messages[chatID]
	if !ok {
		return nil, fmt.Errorf("simdriver: chat %s not found", chatID)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]driver.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// DownloadMedia returns the seeded payload for a message.
func (c *Client) DownloadMedia(ctx context.Context, chatID, messageID string) (*driver.Media, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("simdriver: client closed")
	}
	if c.opts.FailMedia {
		return nil, fmt.Errorf("simdriver: media download failure")
	}
	m, ok := c.media[messageID]
	if !ok {
		return nil, fmt.Errorf("simdriver: no media for message %s", messageID)
	}
	out := m
	return &out, nil
}

// Disconnect emits the final disconnected event and closes the stream.
// Safe to call multiple times.
func (c *Client) Disconnect(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			c.events <- driver.Event{Type: driver.EventDisconnected, Reason: "client disconnect"}
			close(c.events)
		}
		c.mu.Unlock()
	})
	return nil
}

// SeedChat registers a chat so Chats/Chat can return it.
func (c *Client) SeedChat(chat driver.Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats[chat.ID] = chat
}

// SeedMessages replaces the message history for a chat.
func (c *Client) SeedMessages(chatID string, msgs []driver.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[chatID] = msgs
}

// SeedMedia registers a downloadable payload for a message id.
func (c *Client) SeedMedia(messageID string, m driver.Media) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media[messageID] = m
}
