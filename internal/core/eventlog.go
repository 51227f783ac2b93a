package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// eventBatchSize and eventBatchInterval bound how long a non-critical
// event can sit in memory before EventLog durably persists it (spec
// §4.9).
const (
	eventBatchSize     = 100
	eventBatchInterval = 2 * time.Second
)

// EventLog is the durable, append-only audit trail for every session,
// backed by a pure-Go sqlite database. Non-critical events are batched;
// Start/Complete/Cancel/Error bypass the batch and flush synchronously.
type EventLog struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
}

// OpenEventLog opens (creating if absent) a sqlite-backed EventLog at
// dbPath.
func OpenEventLog(dbPath string, log *slog.Logger) (*EventLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrapIO(dbPath, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source_path TEXT,
		started_at TEXT,
		completed_at TEXT,
		status INTEGER,
		tool_version TEXT,
		file_count INTEGER,
		total_bytes INTEGER
	);
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		timestamp TEXT,
		kind INTEGER,
		severity INTEGER,
		file_path TEXT,
		destination_path TEXT,
		size INTEGER,
		hash TEXT,
		error_msg TEXT,
		duration_ms INTEGER,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, wrapIO(dbPath, err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &EventLog{db: db, log: log}, nil
}

// Close flushes any pending batch and closes the underlying database.
func (l *EventLog) Close() error {
	l.Flush()

	return l.db.Close()
}

// Append records e, batching unless its kind is critical (spec §4.9).
func (l *EventLog) Append(e Event) {
	if e.Kind.critical() {
		l.insertOne(e)

		return
	}

	l.mu.Lock()
	l.pending = append(l.pending, e)
	full := len(l.pending) >= eventBatchSize
	if l.timer == nil {
		l.timer = time.AfterFunc(eventBatchInterval, l.Flush)
	}
	l.mu.Unlock()

	if full {
		l.Flush()
	}
}

// Flush durably writes any batched events immediately.
func (l *EventLog) Flush() {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := l.insertBatch(batch); err != nil {
		l.log.Warn("event log flush failed", "count", len(batch), "error", err)
	}
}

func (l *EventLog) insertOne(e Event) {
	if err := l.insertBatch([]Event{e}); err != nil {
		l.log.Warn("event log synchronous write failed", "kind", e.Kind, "error", err)
	}
}

func (l *EventLog) insertBatch(events []Event) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO events
		(session_id, timestamp, kind, severity, file_path, destination_path, size, hash, error_msg, duration_ms, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()

		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		metadataJSON, err := marshalMetadata(e.Metadata)
		if err != nil {
			tx.Rollback()

			return fmt.Errorf("marshal event metadata: %w", err)
		}

		_, err = stmt.Exec(
			e.SessionID.String(), e.Timestamp.Format(time.RFC3339Nano), int(e.Kind), int(e.Severity),
			e.FilePath, e.DestinationPath, e.Size, e.Hash, e.ErrorMsg, e.DurationMs, metadataJSON,
		)
		if err != nil {
			tx.Rollback()

			return fmt.Errorf("exec insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// FinalizeSession upserts a Session row. The Orchestrator calls it once,
// when the session reaches its terminal status; a second call for the same
// id updates the completion fields of the existing row.
func (l *EventLog) FinalizeSession(s Session) {
	_, err := l.db.Exec(`
		INSERT INTO sessions (id, source_path, started_at, completed_at, status, tool_version, file_count, total_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at=excluded.completed_at, status=excluded.status,
			file_count=excluded.file_count, total_bytes=excluded.total_bytes`,
		s.ID.String(), s.SourceAbsPath, s.StartedAt.Format(time.RFC3339Nano),
		s.CompletedAt.Format(time.RFC3339Nano), int(s.Status), s.ToolVersion, s.FileCount, s.TotalBytes,
	)
	if err != nil {
		l.log.Warn("session finalize failed", "session", s.ID, "error", err)
	}
}

// EventsForSession returns every event recorded for sessionID, ordered by
// insertion (spec §4.9 query surface).
func (l *EventLog) EventsForSession(ctx context.Context, sessionID uuid.UUID) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, kind, severity, file_path, destination_path, size, hash, error_msg, duration_ms, metadata_json
		FROM events WHERE session_id = ? ORDER BY id ASC`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var sid, ts string
		var metadataJSON sql.NullString
		if err := rows.Scan(&e.ID, &sid, &ts, &e.Kind, &e.Severity, &e.FilePath, &e.DestinationPath, &e.Size, &e.Hash, &e.ErrorMsg, &e.DurationMs, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.SessionID, _ = uuid.Parse(sid)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)

		metadata, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		e.Metadata = metadata

		out = append(out, e)
	}

	return out, rows.Err()
}

// marshalMetadata encodes an Event's Metadata map as JSON for storage in
// the events table's metadata_json column (spec §3's Event.metadata? and
// SPEC_FULL.md §4.9's schema), returning a NULL-equivalent empty string
// when there is nothing to store.
func marshalMetadata(metadata map[string]string) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalMetadata is marshalMetadata's inverse, used when loading events
// back out of the database.
func unmarshalMetadata(metadataJSON sql.NullString) (map[string]string, error) {
	if !metadataJSON.Valid || metadataJSON.String == "" {
		return nil, nil
	}

	var metadata map[string]string
	if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
		return nil, err
	}

	return metadata, nil
}

// VersionStat summarizes every session recorded under one tool version.
type VersionStat struct {
	ToolVersion string
	Sessions    int
	FilesTotal  int
	BytesTotal  int64
}

// VersionStats aggregates session counts and totals grouped by tool
// version (spec §4.9's "per-version statistics" query).
func (l *EventLog) VersionStats(ctx context.Context) ([]VersionStat, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT tool_version, COUNT(*), COALESCE(SUM(file_count), 0), COALESCE(SUM(total_bytes), 0)
		FROM sessions GROUP BY tool_version ORDER BY tool_version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query version stats: %w", err)
	}
	defer rows.Close()

	var out []VersionStat
	for rows.Next() {
		var s VersionStat
		if err := rows.Scan(&s.ToolVersion, &s.Sessions, &s.FilesTotal, &s.BytesTotal); err != nil {
			return nil, fmt.Errorf("scan version stat: %w", err)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// LatestSession returns the most recently started session, if any.
func (l *EventLog) LatestSession(ctx context.Context) (*Session, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, source_path, started_at, completed_at, status, tool_version, file_count, total_bytes
		FROM sessions ORDER BY started_at DESC LIMIT 1`)

	var s Session
	var id, started, completed string
	err := row.Scan(&id, &s.SourceAbsPath, &started, &completed, &s.Status, &s.ToolVersion, &s.FileCount, &s.TotalBytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest session: %w", err)
	}

	s.ID, _ = uuid.Parse(id)
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	s.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)

	return &s, nil
}
