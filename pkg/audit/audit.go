// Package audit records every resolution outcome in Postgres for later review.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/otherjamesbrown/mediaref/pkg/logging"
)

// Schema creates the audit table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS media_resolution_audit (
    id                BIGSERIAL PRIMARY KEY,
    conversation_id   TEXT NOT NULL,
    resolution_id     TEXT NOT NULL,
    turn              INTEGER NOT NULL,
    method            TEXT NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL,
    matched_indices   INTEGER[] NOT NULL DEFAULT '{}',
    reason            TEXT,
    user_intent       TEXT NOT NULL,
    message_excerpt   TEXT,
    duration_ms       INTEGER NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS media_resolution_audit_conversation_idx
    ON media_resolution_audit (conversation_id, created_at DESC);
`

const insertQuery = `INSERT INTO media_resolution_audit
    (conversation_id, resolution_id, turn, method, confidence, matched_indices,
     reason, user_intent, message_excerpt, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// MaxExcerptLength bounds the stored message text.
const MaxExcerptLength = 500

// Entry is one audited resolution.
type Entry struct {
	ConversationID string
	ResolutionID   string
	Turn           int
	Method         string
	Confidence     float64
	MatchedIndices []int
	Reason         string
	UserIntent     string
	Message        string
	Duration       time.Duration
}

// Recorder writes audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRecorder writes audit entries through database/sql and lib/pq.
type PostgresRecorder struct {
	db     *sql.DB
	exec   execer
	logger logging.Logger
}

// Open connects to Postgres with the given DSN.
func Open(dsn string, logger logging.Logger) (*PostgresRecorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Audit writes are small and infrequent.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgresRecorder(db, logger), nil
}

// NewPostgresRecorder wraps an open database handle.
func NewPostgresRecorder(db *sql.DB, logger logging.Logger) *PostgresRecorder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PostgresRecorder{
		db:     db,
		exec:   db,
		logger: logger.With(logging.Component("audit")),
	}
}

// EnsureSchema creates the audit table if needed.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.exec.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *PostgresRecorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Record inserts one entry.
func (r *PostgresRecorder) Record(ctx context.Context, entry Entry) error {
	indices := make([]int64, len(entry.MatchedIndices))
	for i, idx := range entry.MatchedIndices {
		indices[i] = int64(idx)
	}

	_, err := r.exec.ExecContext(ctx, insertQuery,
		entry.ConversationID,
		entry.ResolutionID,
		entry.Turn,
		entry.Method,
		entry.Confidence,
		pq.Array(indices),
		nullIfEmpty(entry.Reason),
		entry.UserIntent,
		nullIfEmpty(truncate(entry.Message, MaxExcerptLength)),
		int(entry.Duration.Milliseconds()),
	)
	if err != nil {
		r.logger.Warn("Failed to record resolution audit",
			logging.Err(err),
			logging.F("resolution_id", entry.ResolutionID))
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *PostgresRecorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// NopRecorder discards entries. It is used when auditing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }
func (NopRecorder) Close() error                        { return nil }

// truncate cuts s to at most maxLen bytes without splitting a UTF-8 sequence.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
