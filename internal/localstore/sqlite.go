package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    session_id   TEXT NOT NULL,
    chunk_index  INTEGER NOT NULL,
    id           TEXT NOT NULL,
    data         BLOB NOT NULL,
    duration     REAL NOT NULL,
    captured_ns  INTEGER NOT NULL,
    transcript   TEXT,
    PRIMARY KEY (session_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS recording_state (
    session_id       TEXT PRIMARY KEY,
    recording        INTEGER NOT NULL,
    paused           INTEGER NOT NULL,
    started_ns       INTEGER NOT NULL,
    paused_total_ns  INTEGER NOT NULL,
    paused_at_ns     INTEGER,
    chunk_count      INTEGER NOT NULL,
    mode             TEXT NOT NULL,
    updated_ns       INTEGER NOT NULL
);
`

// SQLite is a Store backed by a local SQLite file
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, unavailable("create cache directory", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, unavailable("open cache", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, unavailable("apply schema", err)
	}

	return &SQLite{db: db}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", chunk.ErrLocalCacheUnavailable, op, err)
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put implements Store
func (s *SQLite) Put(ctx context.Context, c chunk.AudioChunk) error {
	if !c.Valid() {
		return unavailable("put chunk", chunk.ErrEmptyPayload)
	}
	id := c.ID
	if id == "" {
		id = chunk.DeriveID(c.SessionID, c.Index)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (session_id, chunk_index, id, data, duration, captured_ns, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, chunk_index) DO UPDATE SET
			id = excluded.id,
			data = excluded.data,
			duration = excluded.duration,
			captured_ns = excluded.captured_ns,
			transcript = excluded.transcript`,
		c.SessionID, c.Index, id, c.Data, c.Duration, unixNano(c.CapturedAt), nullString(c.Transcript),
	)
	if err != nil {
		return unavailable("put chunk", err)
	}
	return nil
}

// GetAll implements Store
func (s *SQLite) GetAll(ctx context.Context, sessionID string) ([]chunk.AudioChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_index, data, duration, captured_ns, transcript
		FROM chunks WHERE session_id = ? ORDER BY chunk_index`, sessionID)
	if err != nil {
		return nil, unavailable("list chunks", err)
	}
	defer rows.Close()

	var chunks []chunk.AudioChunk
	for rows.Next() {
		var (
			c          chunk.AudioChunk
			capturedNs int64
			transcript sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Index, &c.Data, &c.Duration, &capturedNs, &transcript); err != nil {
			return nil, unavailable("scan chunk", err)
		}
		c.SessionID = sessionID
		c.Size = len(c.Data)
		c.CapturedAt = fromUnixNano(capturedNs)
		if transcript.Valid {
			text := transcript.String
			c.Transcript = &text
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list chunks", err)
	}

	return chunks, nil
}

// DeleteAll implements Store
func (s *SQLite) DeleteAll(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, sessionID); err != nil {
		return unavailable("delete chunks", err)
	}
	return nil
}

// SaveState implements Store
func (s *SQLite) SaveState(ctx context.Context, st chunk.RecordingState) error {
	var pausedAt sql.NullInt64
	if st.PausedAt != nil {
		pausedAt = sql.NullInt64{Int64: st.PausedAt.UnixNano(), Valid: true}
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recording_state (session_id, recording, paused, started_ns, paused_total_ns, paused_at_ns, chunk_count, mode, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			recording = excluded.recording,
			paused = excluded.paused,
			started_ns = excluded.started_ns,
			paused_total_ns = excluded.paused_total_ns,
			paused_at_ns = excluded.paused_at_ns,
			chunk_count = excluded.chunk_count,
			mode = excluded.mode,
			updated_ns = excluded.updated_ns`,
		st.SessionID, st.Recording, st.Paused, unixNano(st.StartedAt), int64(st.PausedDuration),
		pausedAt, st.ChunkCount, string(st.Mode), updated.UnixNano(),
	)
	if err != nil {
		return unavailable("save recording state", err)
	}
	return nil
}

// LoadState implements Store
func (s *SQLite) LoadState(ctx context.Context, sessionID string) (*chunk.RecordingState, error) {
	row := s.db.QueryRowContext(ctx, stateQuery+` WHERE session_id = ?`, sessionID)

	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load recording state", err)
	}
	return st, nil
}

// ListStates implements Store
func (s *SQLite) ListStates(ctx context.Context) ([]chunk.RecordingState, error) {
	rows, err := s.db.QueryContext(ctx, stateQuery+` ORDER BY started_ns`)
	if err != nil {
		return nil, unavailable("list recording states", err)
	}
	defer rows.Close()

	var states []chunk.RecordingState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, unavailable("scan recording state", err)
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list recording states", err)
	}
	return states, nil
}

// DeleteState implements Store
func (s *SQLite) DeleteState(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recording_state WHERE session_id = ?`, sessionID); err != nil {
		return unavailable("delete recording state", err)
	}
	return nil
}

const stateQuery = `
	SELECT session_id, recording, paused, started_ns, paused_total_ns, paused_at_ns, chunk_count, mode, updated_ns
	FROM recording_state`

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*chunk.RecordingState, error) {
	var st chunk.RecordingState
	var startedNs, pausedTotal, updated int64
	var pausedAt sql.NullInt64
	var mode string
	if err := row.Scan(&st.SessionID, &st.Recording, &st.Paused, &startedNs, &pausedTotal, &pausedAt, &st.ChunkCount, &mode, &updated); err != nil {
		return nil, err
	}

	st.StartedAt = fromUnixNano(startedNs)
	st.PausedDuration = time.Duration(pausedTotal)
	st.Mode = chunk.CaptureMode(mode)
	st.UpdatedAt = time.Unix(0, updated).UTC()
	if pausedAt.Valid {
		at := time.Unix(0, pausedAt.Int64).UTC()
		st.PausedAt = &at
	}
	return &st, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
