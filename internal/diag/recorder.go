package diag

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/lifecycle"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Recorder persists diagnostics sessions to SQLite. WAL mode keeps
// reads available while the collector writes.
type Recorder struct {
	db *sql.DB
}

// OpenRecorder creates or opens the recording database at path.
// Idempotent: pragmas and schema apply on every open.
func OpenRecorder(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open recording database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to recording database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// BeginSession registers a session token.
func (r *Recorder) BeginSession(sessionID string, startedAt time.Time) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		sessionID, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin session %s: %w", sessionID, err)
	}
	return nil
}

// WriteEvent implements EventWriter.
func (r *Recorder) WriteEvent(sessionID string, rec EventRecord) error {
	_, err := r.db.Exec(
		`INSERT INTO events (session_id, at, direction, source_id, dest_id, kind, channel, key, velocity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.At.UTC().Format(time.RFC3339Nano), string(rec.Direction),
		rec.SourceID, rec.DestID, int(rec.Kind), rec.Channel, rec.Key, rec.Velocity)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// WriteTransition implements EventWriter.
func (r *Recorder) WriteTransition(sessionID string, change lifecycle.StateChange) error {
	errText := ""
	if change.Err != nil {
		errText = change.Err.Error()
	}
	_, err := r.db.Exec(
		`INSERT INTO transitions (session_id, at, dest_id, from_state, to_state, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, change.At.UTC().Format(time.RFC3339Nano), change.Dest,
		change.From.String(), change.To.String(), errText)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// Events reads back a session's events in insertion order.
func (r *Recorder) Events(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT at, direction, source_id, dest_id, kind, channel, key, velocity
		 FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var at, dir string
		var kind int
		if err := rows.Scan(&at, &dir, &rec.SourceID, &rec.DestID, &kind, &rec.Channel, &rec.Key, &rec.Velocity); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", at, err)
		}
		rec.Direction = Direction(dir)
		rec.Kind = event.Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
