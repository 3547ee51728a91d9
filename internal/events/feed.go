// Package events provides the in-process feed of session lifecycle events.
// The registry publishes every state transition; the WebSocket endpoint
// subscribes per session id, and an optional bridge republishes events to
// NATS for other services.
package events

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is one session lifecycle notification.
type Event struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Challenge string `json:"challenge,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Ts        int64  `json:"ts"`
}

// Publisher republishes events outside the process. Implementations must be
// safe for concurrent use.
type Publisher interface {
	PublishSessionEvent(sessionID string, data []byte) error
}

// subKey addresses one subscription. An empty session id subscribes to the
// firehose (every session).
type subKey struct {
	sessionID string
	seq       int
}

// Feed is a fan-out broadcaster of session events. Subscriber channels are
// buffered; events to a full subscriber are dropped rather than blocking the
// registry's event path.
type Feed struct {
	mu     sync.RWMutex
	subs   map[subKey]chan Event
	seq    int
	bridge Publisher // nil when no external bridge is configured
}

// NewFeed creates a Feed. bridge may be nil.
func NewFeed(bridge Publisher) *Feed {
	return &Feed{
		subs:   make(map[subKey]chan Event),
		bridge: bridge,
	}
}

// Subscribe returns a channel of events for the given session id (empty id
// for all sessions) and a cancel function that closes the channel.
func (f *Feed) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	f.mu.Lock()
	f.seq++
	key := subKey{sessionID: sessionID, seq: f.seq}
	f.subs[key] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[key]; ok {
			delete(f.subs, key)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans ev out to matching subscribers and the external bridge.
func (f *Feed) Publish(ev Event) {
	f.mu.RLock()
	for key, ch := range f.subs {
		if key.sessionID != "" && key.sessionID != ev.SessionID {
			continue
		}
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than stall the event path.
		}
	}
	bridge := f.bridge
	f.mu.RUnlock()

	if bridge != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[events] marshal event session=%s: %v", ev.SessionID, err)
			return
		}
		if err := bridge.PublishSessionEvent(ev.SessionID, data); err != nil {
			log.Printf("[events] bridge publish session=%s: %v", ev.SessionID, err)
		}
	}
}
