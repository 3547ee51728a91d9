package simdriver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatbridge/wa-gateway/internal/driver"
)

func collect(t *testing.T, c *Client, n int) []driver.Event {
	t.Helper()
	out := make([]driver.Event, 0, n)
	for len(out) < n {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events: %+v", len(out), out)
		}
	}
	return out
}

func TestLoginFlowFreshSession(t *testing.T) {
	dir := t.TempDir()
	c := New("s1", dir, Options{})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	evs := collect(t, c, 3)
	want := []driver.EventType{driver.EventChallenge, driver.EventConfirmed, driver.EventReady}
	for i, w := range want {
		if evs[i].Type != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, evs[i].Type)
		}
	}
	if evs[0].Challenge == "" {
		t.Error("challenge event should carry a payload")
	}

	// Credentials must be persisted for session restore.
	if _, err := os.Stat(filepath.Join(dir, credsFile)); err != nil {
		t.Errorf("expected persisted credentials: %v", err)
	}
}

func TestLoginFlowRestoredSessionSkipsChallenge(t *testing.T) {
	dir := t.TempDir()

	first := New("s1", dir, Options{})
	if err := first.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	collect(t, first, 3)
	first.Disconnect(context.Background())

	second := New("s1", dir, Options{})
	if err := second.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	evs := collect(t, second, 2)
	if evs[0].Type != driver.EventConfirmed || evs[1].Type != driver.EventReady {
		t.Fatalf("restored session should skip the challenge, got %+v", evs)
	}
}

func TestAuthFailure(t *testing.T) {
	c := New("s1", t.TempDir(), Options{FailAuth: true})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	evs := collect(t, c, 2)
	if evs[1].Type != driver.EventAuthFailed {
		t.Fatalf("expected auth-failed after challenge, got %+v", evs)
	}
}

func TestConnectFailure(t *testing.T) {
	c := New("s1", t.TempDir(), Options{FailConnect: true})
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestChatsFailureInjection(t *testing.T) {
	c := New("s1", t.TempDir(), Options{ChatsFailNum: 1})
	c.SeedChat(driver.Chat{ID: "1@s.whatsapp.net", Name: "Alice"})

	ctx := context.Background()
	if _, err := c.Chats(ctx); err == nil {
		t.Fatal("first Chats call should fail")
	}
	chats, err := c.Chats(ctx)
	if err != nil {
		t.Fatalf("second Chats call: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(chats))
	}
}

func TestMessagesLimit(t *testing.T) {
	c := New("s1", t.TempDir(), Options{})
	msgs := make([]driver.Message, 20)
	for i := range msgs {
		msgs[i] = driver.Message{ID: "m" + string(rune('a'+i)), ChatID: "1"}
	}
	c.SeedMessages("1", msgs)

	got, err := c.Messages(context.Background(), "1", 5)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	// The cap keeps the most recent (trailing) messages.
	if got[4].ID != msgs[19].ID {
		t.Errorf("expected newest message last, got %q", got[4].ID)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := New("s1", t.TempDir(), Options{})
	ctx := context.Background()
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}

	if _, err := c.Chats(ctx); err == nil {
		t.Fatal("operations on a closed client should fail")
	}
}
