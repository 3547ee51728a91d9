package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatbridge/wa-gateway/internal/driver/simdriver"
	"github.com/chatbridge/wa-gateway/internal/events"
	"github.com/chatbridge/wa-gateway/internal/export"
	"github.com/chatbridge/wa-gateway/internal/session"
)

func newTestServer(t *testing.T, opts simdriver.Options) (*httptest.Server, *session.Registry) {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.DataDir = t.TempDir()
	reg := session.NewRegistry(cfg, simdriver.Factory(opts), events.NewFeed(nil))
	coord := export.NewCoordinator(reg, cfg.DataDir, nil)
	s := NewServer(DefaultConfig(), reg, coord, events.NewFeed(nil), nil)

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Close(ctx)
	})
	return ts, reg
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func createSession(t *testing.T, ts *httptest.Server, owner string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"owner": owner})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if out.Status != string(session.StatusInitializing) {
		t.Fatalf("expected initializing, got %s", out.Status)
	}
	return out.ID
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var frame struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &frame); err != nil {
		t.Fatalf("unmarshal error frame %q: %v", body, err)
	}
	return frame.Code
}

func TestCreateAndGetSession(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	id := createSession(t, ts, "alice")

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get: expected 200, got %d", resp.StatusCode)
		}
		var info session.Info
		if err := json.Unmarshal(body, &info); err != nil {
			t.Fatalf("unmarshal info: %v", err)
		}
		if info.Status == session.StatusReady {
			if info.Owner != "alice" {
				t.Errorf("expected owner alice, got %q", info.Owner)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session stuck at %s", info.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Errorf("expected not_found code, got %q", code)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	id := createSession(t, ts, "alice")

	resp, body := doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first delete: expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "not_found" {
		t.Errorf("expected not_found code, got %q", code)
	}
}

func TestListSessions(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	createSession(t, ts, "alice")
	createSession(t, ts, "bob")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var infos []session.Info
	if err := json.Unmarshal(body, &infos); err != nil {
		t.Fatalf("unmarshal listing: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
}

func TestSendNotReady(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{ReadyDelay: time.Second})
	id := createSession(t, ts, "alice")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages",
		map[string]any{"target": "5551234", "body": "hello"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "not_ready" {
		t.Errorf("expected not_ready code, got %q", code)
	}
}

func TestSendMissingBody(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	id := createSession(t, ts, "alice")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/messages",
		map[string]any{"target": "5551234"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != "invalid_input" {
		t.Errorf("expected invalid_input code, got %q", code)
	}
}

func TestConversationsBadHours(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	id := createSession(t, ts, "alice")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/conversations?hours=soon", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
}

func TestExportEmptyConversationList(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})
	id := createSession(t, ts, "alice")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/exports",
		map[string]any{"conversation_ids": []string{}, "mode": "all"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}
	if code := errorCode(t, body); code != "invalid_input" {
		t.Errorf("expected invalid_input code, got %q", code)
	}
}

func TestArchiveNotFound(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/archives/"+fmt.Sprintf("%d", time.Now().UnixNano()), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, simdriver.Options{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "wagateway_sessions_active") {
		t.Error("metrics output missing gateway series")
	}
}
