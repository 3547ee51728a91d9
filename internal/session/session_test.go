package session

import (
	"testing"

	"github.com/chatbridge/wa-gateway/internal/driver"
)

func TestStateMachineAllowed(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusInitializing, StatusAwaiting, true},
		{StatusInitializing, StatusConfirmed, true}, // restored session skips the challenge
		{StatusInitializing, StatusReady, true},
		{StatusAwaiting, StatusAwaiting, true}, // re-issued challenge
		{StatusAwaiting, StatusConfirmed, true},
		{StatusConfirmed, StatusReady, true},
		{StatusConfirmed, StatusAwaiting, false}, // no going backwards
		{StatusReady, StatusAwaiting, false},
		{StatusReady, StatusConfirmed, false},
		{StatusReady, StatusAuthFailed, false}, // ready only exits to disconnected
		{StatusReady, StatusDisconnected, true},
		{StatusInitializing, StatusAuthFailed, true},
		{StatusAwaiting, StatusAuthFailed, true},
		{StatusConfirmed, StatusDisconnected, true},
		{StatusAuthFailed, StatusReady, false}, // terminal states absorb
		{StatusDisconnected, StatusReady, false},
		{StatusAuthFailed, StatusDisconnected, false},
	}

	for _, tt := range tests {
		if got := allowed(tt.from, tt.to); got != tt.want {
			t.Errorf("allowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestApplySetsAndClearsChallenge(t *testing.T) {
	s := &Session{id: "s1", status: StatusInitializing}

	if !s.apply(driver.Event{Type: driver.EventChallenge, Challenge: "code-1"}) {
		t.Fatal("challenge event should apply")
	}
	if info := s.snapshot(); info.Status != StatusAwaiting || info.Challenge != "code-1" {
		t.Fatalf("unexpected snapshot: %+v", info)
	}

	// A re-emitted challenge replaces the payload.
	if !s.apply(driver.Event{Type: driver.EventChallenge, Challenge: "code-2"}) {
		t.Fatal("re-issued challenge should apply")
	}
	if info := s.snapshot(); info.Challenge != "code-2" {
		t.Fatalf("expected replaced challenge, got %q", info.Challenge)
	}

	if !s.apply(driver.Event{Type: driver.EventConfirmed}) {
		t.Fatal("confirmed event should apply")
	}
	if info := s.snapshot(); info.Challenge != "" {
		t.Errorf("challenge must be cleared once confirmed, got %q", info.Challenge)
	}
}

func TestApplyIgnoresForbiddenTransitions(t *testing.T) {
	s := &Session{id: "s1", status: StatusReady}

	if s.apply(driver.Event{Type: driver.EventAuthFailed}) {
		t.Error("ready must not transition to auth-failed")
	}
	if s.currentStatus() != StatusReady {
		t.Errorf("status changed to %s", s.currentStatus())
	}

	if !s.apply(driver.Event{Type: driver.EventDisconnected, Reason: "gone"}) {
		t.Error("ready should transition to disconnected")
	}
	if s.apply(driver.Event{Type: driver.EventReady}) {
		t.Error("terminal session must ignore further events")
	}
}
