// Package store persists session and transcript history in SQLite.
// Persistence is optional: a store opened with an empty path accepts
// every call as a no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dzpline/whisper-client/internal/config"
)

// Session is one capture session's metadata.
type Session struct {
	ID         string
	StartedAt  time.Time
	Device     string
	Model      string
	Capability string
}

// Transcript is one stored transcript event.
type Transcript struct {
	ID         int64
	SessionID  string
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	CreatedAt  time.Time
}

// Store wraps the SQLite-backed transcript history.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. An empty path yields a
// disabled store that ignores writes.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "store"))
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    device TEXT,
    model TEXT,
    capability TEXT
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    start_ms INTEGER NOT NULL,
    end_ms INTEGER NOT NULL,
    confidence REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_start ON transcripts(session_id, start_ms);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether the store writes to disk.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sess Session) error {
	if s.db == nil {
		return nil
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, started_at, device, model, capability)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET device=excluded.device, model=excluded.model, capability=excluded.capability`,
		sess.ID, sess.StartedAt, sess.Device, sess.Model, sess.Capability)
	return err
}

// AppendTranscript writes one transcript event.
func (s *Store) AppendTranscript(ctx context.Context, tr Transcript) error {
	if s.db == nil {
		return nil
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, text, start_ms, end_ms, confidence, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		tr.SessionID, tr.Text, tr.Start.Milliseconds(), tr.End.Milliseconds(), tr.Confidence, tr.CreatedAt)
	return err
}

// ListSessionTranscripts retrieves up to limit transcripts for a session
// in timeline order.
func (s *Store) ListSessionTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, start_ms, end_ms, confidence, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY start_ms ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var tr Transcript
		var startMS, endMS int64
		var created string
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Text, &startMS, &endMS, &tr.Confidence, &created); err != nil {
			return nil, err
		}
		tr.Start = time.Duration(startMS) * time.Millisecond
		tr.End = time.Duration(endMS) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			tr.CreatedAt = ts
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Prune drops the oldest sessions past the configured maximum, cascading
// to their transcripts.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxSessions <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id IN (
		SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxSessions)
	return err
}
