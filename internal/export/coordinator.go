// Package export assembles conversation archives. A job pulls message
// history and media for a set of conversations through a ready session's
// driver, writes one folder per conversation, and bundles everything into a
// single zip. Failures are isolated per conversation and per message: one
// bad conversation id never aborts the job.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/chatbridge/wa-gateway/internal/audit"
	"github.com/chatbridge/wa-gateway/internal/driver"
	"github.com/chatbridge/wa-gateway/internal/gwerr"
	"github.com/chatbridge/wa-gateway/internal/metrics"
	"github.com/chatbridge/wa-gateway/internal/session"
)

// Mode selects which messages an export includes.
type Mode string

const (
	// ModeAll exports every message in each conversation.
	ModeAll Mode = "all"

	// ModeReceived exports only messages authored by the other party.
	ModeReceived Mode = "received"
)

// MaxMessagesPerConversation caps the history fetched for one conversation.
const MaxMessagesPerConversation = 10000

// Per-session export job quota. Enforced only when an audit log is
// configured, since the quota is answered from the recorded job history.
const (
	JobQuota       = 20
	JobQuotaWindow = 24 * time.Hour
)

// unsupportedMediaTypes are interactive message subtypes whose media cannot
// be downloaded through the automation surface. They are recorded with a
// skip reason instead of attempting a download.
var unsupportedMediaTypes = map[string]bool{
	"poll_creation":    true,
	"buttons_response": true,
	"list_response":    true,
	"interactive":      true,
}

// Record is the normalized metadata of one exported message.
type Record struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Direction string `json:"direction"` // "sent" or "received"
	Body      string `json:"body,omitempty"`
	Type      string `json:"type"`
	HasMedia  bool   `json:"has_media"`
	MediaFile string `json:"media_file,omitempty"`
	Skipped   string `json:"skipped,omitempty"` // reason media was not downloaded
	Error     string `json:"error,omitempty"`   // media download failure
}

// ConversationResult summarizes one conversation inside a job.
type ConversationResult struct {
	ConversationID string `json:"conversation_id"`
	DisplayName    string `json:"display_name,omitempty"`
	Folder         string `json:"folder,omitempty"`
	MessageCount   int    `json:"message_count"`
	MediaCount     int    `json:"media_count"`
	Error          string `json:"error,omitempty"`
}

// Result is the outcome of one export job.
type Result struct {
	ArchiveID     string               `json:"archive_id"`
	ArchivePath   string               `json:"archive_location"`
	ExportedCount int                  `json:"exported_count"`
	Conversations []ConversationResult `json:"conversations"`
}

// AuditLog persists completed export jobs and answers quota queries.
type AuditLog interface {
	Create(ctx context.Context, job *audit.Job) error
	CountRecent(ctx context.Context, sessionID string, window time.Duration) (int, error)
}

// Coordinator runs export jobs against the session registry.
type Coordinator struct {
	sessions *session.Registry
	dataDir  string
	audit    AuditLog // nil disables auditing and the job quota
}

// NewCoordinator creates a Coordinator. auditLog may be nil.
func NewCoordinator(sessions *session.Registry, dataDir string, auditLog AuditLog) *Coordinator {
	return &Coordinator{sessions: sessions, dataDir: dataDir, audit: auditLog}
}

// ArchivesDir returns the directory where finished archives live.
func (c *Coordinator) ArchivesDir() string {
	return filepath.Join(c.dataDir, "archives")
}

// ArchivePath resolves an archive id to its on-disk location, rejecting ids
// that could escape the archives directory. Returns NotFound if the archive
// does not exist (never produced, or already swept by retention).
func (c *Coordinator) ArchivePath(archiveID string) (string, error) {
	if archiveID == "" || archiveID != filepath.Base(archiveID) {
		return "", gwerr.New(gwerr.KindInvalidInput, "invalid archive id")
	}
	path := filepath.Join(c.ArchivesDir(), archiveID+".zip")
	if _, err := os.Stat(path); err != nil {
		return "", gwerr.New(gwerr.KindNotFound, "archive %s not found", archiveID)
	}
	return path, nil
}

// Export runs one job. The session must be ready at the start of the job;
// no session lock is held afterwards, so status lookups on the same id are
// never starved and a mid-export removal surfaces as per-conversation
// failures rather than corrupting state. ExportedCount always equals the
// number of requested conversation ids; per-id failures are visible in the
// Conversations slice.
func (c *Coordinator) Export(ctx context.Context, sessionID string, conversationIDs []string, mode Mode) (*Result, error) {
	if len(conversationIDs) == 0 {
		return nil, gwerr.New(gwerr.KindInvalidInput, "conversation id list is empty")
	}
	if mode != ModeAll && mode != ModeReceived {
		return nil, gwerr.New(gwerr.KindInvalidInput, "unknown export mode %q", mode)
	}

	info, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if info.Status != session.StatusReady {
		return nil, gwerr.New(gwerr.KindNotReady, "session %s is %s, not ready", sessionID, info.Status)
	}
	drv, err := c.sessions.Driver(sessionID)
	if err != nil {
		return nil, err
	}

	if c.audit != nil {
		n, err := c.audit.CountRecent(ctx, sessionID, JobQuotaWindow)
		if err != nil {
			log.Printf("[export] session=%s quota check: %v (failing open)", sessionID, err)
		} else if n >= JobQuota {
			return nil, gwerr.New(gwerr.KindRateLimited, "session %s exceeded %d export jobs in %s", sessionID, JobQuota, JobQuotaWindow)
		}
	}

	started := time.Now()
	archiveID := uuid.NewString()
	scratch := filepath.Join(c.dataDir, "exports", archiveID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("export: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	result := &Result{
		ArchiveID:     archiveID,
		ExportedCount: len(conversationIDs),
	}
	for _, convID := range conversationIDs {
		result.Conversations = append(result.Conversations, c.exportConversation(ctx, drv, scratch, convID, mode))
	}

	if err := writeManifest(scratch, result); err != nil {
		log.Printf("[export] job=%s write manifest: %v", archiveID, err)
	}

	archivePath := filepath.Join(c.ArchivesDir(), archiveID+".zip")
	if err := buildArchive(scratch, archivePath); err != nil {
		return nil, fmt.Errorf("export: build archive: %w", err)
	}
	result.ArchivePath = archivePath

	c.sessions.Touch(sessionID)
	c.finish(ctx, sessionID, mode, result, time.Since(started))
	return result, nil
}

// exportConversation processes a single conversation id and never returns an
// error: any failure lands in the result's Error field.
func (c *Coordinator) exportConversation(ctx context.Context, drv *driver.Adapter, scratch, convID string, mode Mode) ConversationResult {
	res := ConversationResult{ConversationID: convID}

	chat, err := drv.Conversation(ctx, convID)
	if err != nil {
		log.Printf("[export] conversation=%s resolve failed: %v", convID, err)
		res.Error = err.Error()
		return res
	}
	res.DisplayName = chat.Name

	msgs, err := drv.History(ctx, convID, MaxMessagesPerConversation)
	if err != nil {
		log.Printf("[export] conversation=%s history failed: %v", convID, err)
		res.Error = err.Error()
		return res
	}

	folder := safeFolderName(convID)
	dir := filepath.Join(scratch, folder)
	if err := os.MkdirAll(filepath.Join(dir, "media"), 0o755); err != nil {
		res.Error = fmt.Sprintf("create folder: %v", err)
		return res
	}
	res.Folder = folder

	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		if mode == ModeReceived && msg.FromMe {
			continue
		}
		records = append(records, c.recordMessage(ctx, drv, dir, convID, msg, &res))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		res.Error = fmt.Sprintf("marshal messages: %v", err)
		return res
	}
	if err := os.WriteFile(filepath.Join(dir, "messages.json"), data, 0o644); err != nil {
		res.Error = fmt.Sprintf("write messages: %v", err)
		return res
	}

	res.MessageCount = len(records)
	return res
}

// recordMessage builds the normalized record for one message, downloading
// its media when the subtype supports it.
func (c *Coordinator) recordMessage(ctx context.Context, drv *driver.Adapter, dir, convID string, msg driver.Message, res *ConversationResult) Record {
	rec := Record{
		ID:        msg.ID,
		Timestamp: msg.Timestamp.Unix(),
		Direction: direction(msg.FromMe),
		Body:      msg.Body,
		Type:      msg.Type,
		HasMedia:  msg.HasMedia,
	}
	if !msg.HasMedia {
		return rec
	}
	if unsupportedMediaTypes[msg.Type] {
		rec.Skipped = "unsupported media type: " + msg.Type
		return rec
	}

	media, err := drv.Media(ctx, convID, msg.ID)
	if err != nil {
		rec.Error = "media download failed: " + err.Error()
		return rec
	}

	name := filepath.Join("media", msg.ID+extensionFor(media.MimeType))
	if err := os.WriteFile(filepath.Join(dir, name), media.Data, 0o644); err != nil {
		rec.Error = "media write failed: " + err.Error()
		return rec
	}
	rec.MediaFile = name
	res.MediaCount++
	return rec
}

func direction(fromMe bool) string {
	if fromMe {
		return "sent"
	}
	return "received"
}

// extensionFor picks a file extension for a declared content type.
func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

var unsafeFolderChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeFolderName maps a conversation id to a filesystem-safe folder name.
func safeFolderName(convID string) string {
	name := unsafeFolderChars.ReplaceAllString(convID, "_")
	if name == "" || name == "." || name == ".." {
		name = "conversation"
	}
	return name
}

// writeManifest puts the per-conversation summaries in the archive root so
// partial failures are visible inside the bundle itself.
func writeManifest(scratch string, result *Result) error {
	data, err := json.MarshalIndent(result.Conversations, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(scratch, "export.json"), data, 0o644)
}

// finish records metrics and the optional audit row for a completed job.
func (c *Coordinator) finish(ctx context.Context, sessionID string, mode Mode, result *Result, took time.Duration) {
	outcome := "ok"
	failed := 0
	for _, conv := range result.Conversations {
		if conv.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		outcome = "partial"
	}
	metrics.ExportsTotal.WithLabelValues(outcome).Inc()
	metrics.ExportDuration.Observe(took.Seconds())

	log.Printf("[export] job=%s session=%s conversations=%d failed=%d took=%s",
		result.ArchiveID, sessionID, result.ExportedCount, failed, took.Round(time.Millisecond))

	if c.audit == nil {
		return
	}
	job := &audit.Job{
		JobID:      result.ArchiveID,
		SessionID:  sessionID,
		Mode:       string(mode),
		Requested:  result.ExportedCount,
		Failed:     failed,
		DurationMS: took.Milliseconds(),
	}
	for _, conv := range result.Conversations {
		if conv.Error != "" {
			job.Failures = append(job.Failures, audit.Failure{
				ConversationID: conv.ConversationID,
				Error:          conv.Error,
			})
		}
	}
	if err := c.audit.Create(ctx, job); err != nil {
		log.Printf("[export] job=%s audit insert: %v (ignored)", result.ArchiveID, err)
	}
}
