// Package driver isolates the external chat-automation backend behind a
// uniform seam. Session-lifecycle logic never touches backend internals:
// everything it consumes is one of five lifecycle events plus a handful of
// request/response operations on the Adapter. Swapping the automation
// backend means implementing Client; nothing above this package changes.
package driver

import (
	"context"
	"time"
)

// EventType is one of the five lifecycle events a backend can emit.
type EventType string

const (
	EventChallenge    EventType = "challenge-issued"
	EventConfirmed    EventType = "confirmed"
	EventReady        EventType = "ready"
	EventAuthFailed   EventType = "auth-failed"
	EventDisconnected EventType = "disconnected"
)

// Event is a lifecycle notification from the backend.
type Event struct {
	Type EventType

	// Challenge carries the renderable confirmation payload (e.g. a
	// scannable code). Set only for EventChallenge.
	Challenge string

	// Reason explains auth-failed and disconnected events.
	Reason string
}

// Media is an inbound or outbound media payload.
type Media struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data"`
}

// Chat is a raw conversation record as the backend reports it.
type Chat struct {
	ID           string
	Name         string
	LastActivity time.Time
	IsGroup      bool
}

// Message is a raw message record as the backend reports it.
type Message struct {
	ID        string
	ChatID    string
	Timestamp time.Time
	FromMe    bool
	Body      string
	Type      string // "chat", "image", "video", "audio", "document", ...
	HasMedia  bool
}

// Conversation is the filtered summary exposed to callers.
type Conversation struct {
	ID           string    `json:"conversation_id"`
	DisplayName  string    `json:"display_name"`
	LastActivity time.Time `json:"last_activity"`
}

// ChatFilter restricts Conversations results. Hours of 0 means no time
// filter ("all").
type ChatFilter struct {
	Hours int
}

// Client is the opaque automation backend. Connect starts the asynchronous
// login flow; lifecycle progress arrives on the Events channel, which the
// backend closes after the final disconnected event. All other methods are
// only meaningful once the backend reported ready.
type Client interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Send(ctx context.Context, target, body string, media *Media) (string, error)
	Chats(ctx context.Context) ([]Chat, error)
	Chat(ctx context.Context, chatID string) (Chat, error)
	Messages(ctx context.Context, chatID string, limit int) ([]Message, error)
	DownloadMedia(ctx context.Context, chatID, messageID string) (*Media, error)
	Disconnect(ctx context.Context) error
}

// Factory builds a backend client for one session. authDir is the
// per-session directory where the backend persists credential material; it
// outlives process restarts until the session is removed.
type Factory func(sessionID, authDir string) (Client, error)
