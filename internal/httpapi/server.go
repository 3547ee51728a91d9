// Package httpapi exposes the gateway's operations over HTTP. It is a thin
// request/response mapping: validation, rate limiting, and error framing
// live here; all session and export semantics live in the core packages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chatbridge/wa-gateway/internal/driver"
	"github.com/chatbridge/wa-gateway/internal/events"
	"github.com/chatbridge/wa-gateway/internal/export"
	"github.com/chatbridge/wa-gateway/internal/gwerr"
	"github.com/chatbridge/wa-gateway/internal/metrics"
	"github.com/chatbridge/wa-gateway/internal/ratelimit"
	"github.com/chatbridge/wa-gateway/internal/session"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults. The write timeout is generous
// because archive downloads and export jobs run on request goroutines.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
	}
}

// Server wires the core components to HTTP routes.
type Server struct {
	cfg      Config
	registry *session.Registry
	exporter *export.Coordinator
	feed     *events.Feed
	limiter  *ratelimit.Limiter // nil allows everything

	httpServer *http.Server
}

// NewServer creates a Server. feed and limiter may be nil.
func NewServer(cfg Config, registry *session.Registry, exporter *export.Coordinator, feed *events.Feed, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		exporter: exporter,
		feed:     feed,
		limiter:  limiter,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the route table. Exposed for tests.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreate)
	mux.HandleFunc("GET /api/sessions", s.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleSend)
	mux.HandleFunc("GET /api/sessions/{id}/conversations", s.handleConversations)
	mux.HandleFunc("POST /api/sessions/{id}/exports", s.handleExport)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/archives/{archiveId}", s.handleArchive)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	log.Printf("[http] listening on %s", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- request/response types ---

type createRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type sendRequest struct {
	Target string        `json:"target"`
	Body   string        `json:"body"`
	Media  *driver.Media `json:"media,omitempty"`
}

type sendResponse struct {
	ExternalMessageID string `json:"external_message_id"`
}

type exportRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
	Mode            string   `json:"mode"`
}

type deleteResponse struct {
	Removed bool `json:"removed"`
}

type errorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- handlers ---

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "invalid request body: %v", err))
			return
		}
	}

	owner := req.Owner
	if owner == "" {
		owner = "anonymous"
	}
	if !s.allow(r.Context(), owner, ratelimit.RuleCreate, w) {
		return
	}

	info, err := s.registry.Create(r.Context(), owner, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         info.ID,
		"status":     info.Status,
		"expires_at": info.ExpiresAt,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Remove(r.Context(), id) {
		s.writeError(w, gwerr.New(gwerr.KindNotFound, "session %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Removed: true})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "invalid request body: %v", err))
		return
	}
	if req.Body == "" && req.Media == nil {
		s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "message body or media is required"))
		return
	}
	if !s.allow(r.Context(), id, ratelimit.RuleSend, w) {
		return
	}

	msgID, err := s.registry.Send(r.Context(), id, req.Target, req.Body, req.Media)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{ExternalMessageID: msgID})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	filter := driver.ChatFilter{}
	if v := r.URL.Query().Get("hours"); v != "" && v != "all" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "hours must be a non-negative integer or \"all\""))
			return
		}
		filter.Hours = hours
	}

	convs, err := s.registry.Conversations(r.Context(), id, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "invalid request body: %v", err))
		return
	}
	if !s.allow(r.Context(), id, ratelimit.RuleExport, w) {
		return
	}

	mode := export.Mode(req.Mode)
	if req.Mode == "" {
		mode = export.ModeAll
	}
	result, err := s.exporter.Export(r.Context(), id, req.ConversationIDs, mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	archiveID := r.PathValue("archiveId")
	path, err := s.exporter.ArchivePath(archiveID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archiveID+`.zip"`)
	http.ServeFile(w, r, path)
}

// handleEvents upgrades to WebSocket and streams the session's lifecycle
// events as JSON text frames until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(id); err != nil {
		s.writeError(w, err)
		return
	}
	if s.feed == nil {
		s.writeError(w, gwerr.New(gwerr.KindInvalidInput, "event streaming is not enabled"))
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[http] ws upgrade session=%s: %v", id, err)
		return
	}

	ch, cancel := s.feed.Subscribe(id)

	// Reader goroutine: we never expect client frames, but reading is what
	// detects the peer closing the socket.
	go func() {
		defer cancel()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		defer cancel()
		for ev := range ch {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
				return
			}
		}
	}()
}

// --- helpers ---

// allow applies a rate limit rule; on rejection it writes the 429 frame and
// returns false. The limiter fails open on Redis errors.
func (s *Server) allow(ctx context.Context, identifier string, rule ratelimit.Rule, w http.ResponseWriter) bool {
	ok, _ := s.limiter.Allow(ctx, identifier, rule)
	if !ok {
		writeJSON(w, http.StatusTooManyRequests, errorFrame{
			Code:    "rate_limited",
			Message: "too many requests, retry later",
		})
	}
	return ok
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := gwerr.KindOf(err)
	status := http.StatusInternalServerError
	code := "internal_error"

	switch kind {
	case gwerr.KindNotFound:
		status, code = http.StatusNotFound, string(kind)
	case gwerr.KindNotReady:
		status, code = http.StatusConflict, string(kind)
	case gwerr.KindInvalidTarget, gwerr.KindInvalidInput:
		status, code = http.StatusBadRequest, string(kind)
	case gwerr.KindRateLimited:
		status, code = http.StatusTooManyRequests, string(kind)
	case gwerr.KindDriverFailure:
		status, code = http.StatusBadGateway, string(kind)
	}

	if status == http.StatusInternalServerError {
		log.Printf("[http] internal error: %v", err)
	}
	writeJSON(w, status, errorFrame{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] write response: %v", err)
	}
}
