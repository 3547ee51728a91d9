// Package session manages the lifecycle of automation-driven messaging
// sessions. The registry is the single source of truth for live sessions:
// it creates entries, applies driver lifecycle events to them, and tears
// them down on explicit removal or expiry.
package session

import (
	"sync"
	"time"

	"github.com/chatbridge/wa-gateway/internal/driver"
)

// Status is the caller-visible session state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusAwaiting     Status = "awaiting-confirmation"
	StatusConfirmed    Status = "confirmed"
	StatusReady        Status = "ready"
	StatusAuthFailed   Status = "auth-failed"
	StatusDisconnected Status = "disconnected"
)

// statusRank orders the forward path of the state machine. Transitions may
// never move backwards; a re-issued challenge keeps the session at the same
// rank.
var statusRank = map[Status]int{
	StatusInitializing: 0,
	StatusAwaiting:     1,
	StatusConfirmed:    2,
	StatusReady:        3,
}

// Terminal reports whether s is a terminal state. Terminal sessions stay in
// the registry until explicit removal or expiry so callers can observe the
// failure.
func (s Status) Terminal() bool {
	return s == StatusAuthFailed || s == StatusDisconnected
}

// allowed reports whether the state machine permits from -> to.
func allowed(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if from == StatusReady {
		return to == StatusDisconnected
	}
	if to.Terminal() {
		return true
	}
	return statusRank[to] >= statusRank[from]
}

// Session is one live session entry. All mutation goes through the entry's
// mutex; the driver adapter handle is exclusively owned and never appears in
// projections.
type Session struct {
	mu sync.Mutex

	id        string
	owner     string
	status    Status
	challenge string
	createdAt time.Time
	expiresAt time.Time
	lastSeen  time.Time

	adapter *driver.Adapter
	authDir string
}

// Info is the read-only projection of a session. The challenge is present
// only while the session awaits confirmation.
type Info struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Status    Status    `json:"status"`
	Challenge string    `json:"challenge,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// apply mutates the session according to a driver lifecycle event. Events
// that the state machine forbids are ignored; the returned bool reports
// whether the event changed the session.
func (s *Session) apply(ev driver.Event) bool {
	to := statusFor(ev.Type)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !allowed(s.status, to) {
		return false
	}
	s.status = to
	s.lastSeen = time.Now()
	if to == StatusAwaiting {
		// A re-emitted challenge replaces the previous payload.
		s.challenge = ev.Challenge
	} else {
		s.challenge = ""
	}
	return true
}

// statusFor maps a driver lifecycle event to the resulting session status.
func statusFor(t driver.EventType) Status {
	switch t {
	case driver.EventChallenge:
		return StatusAwaiting
	case driver.EventConfirmed:
		return StatusConfirmed
	case driver.EventReady:
		return StatusReady
	case driver.EventAuthFailed:
		return StatusAuthFailed
	default:
		return StatusDisconnected
	}
}

// snapshot returns a consistent projection of the session.
func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.id,
		Owner:     s.owner,
		Status:    s.status,
		Challenge: s.challenge,
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
		LastSeen:  s.lastSeen,
	}
}

// touch refreshes the liveness timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
