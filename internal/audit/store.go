// Package audit provides PostgreSQL-backed storage for completed export
// jobs. Each row captures which session exported what, how long it took,
// and which conversations failed (for operator review). The store is
// optional: the gateway runs without it when no database is configured.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Job represents a single completed export job to be persisted.
type Job struct {
	JobID      string
	SessionID  string
	Mode       string
	Requested  int
	Failed     int
	DurationMS int64
	Failures   []Failure // per-conversation error summary
}

// Failure is one failed conversation inside a job.
type Failure struct {
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error"`
}

// Store manages export job records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, applies pending migrations, and returns a
// ready store.
func Open(databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: database connection failed: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("audit: init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: apply migrations: %w", err)
	}
	return nil
}

// Create inserts an export job record. Failures are marshalled to JSONB.
func (s *Store) Create(ctx context.Context, job *Job) error {
	var failuresJSON []byte
	if len(job.Failures) > 0 {
		var err error
		failuresJSON, err = json.Marshal(job.Failures)
		if err != nil {
			return fmt.Errorf("audit: marshal failures: %w", err)
		}
	}

	const query = `
		INSERT INTO export_jobs (job_id, session_id, mode, requested, failed, duration_ms, failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.SessionID,
		job.Mode,
		job.Requested,
		job.Failed,
		job.DurationMS,
		failuresJSON,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of export jobs a session ran within the
// given time window. Useful for per-session quota checks.
func (s *Store) CountRecent(ctx context.Context, sessionID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM export_jobs
		WHERE session_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, sessionID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
