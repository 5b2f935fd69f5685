package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skypro1111/chunkrec/internal/chunk"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recording_sessions (
    id                    TEXT PRIMARY KEY,
    owner                 TEXT NOT NULL,
    status                TEXT NOT NULL,
    duration              DOUBLE PRECISION,
    chunks_count          INTEGER NOT NULL DEFAULT 0,
    recording_started_at  TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audio_chunks (
    id           UUID PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES recording_sessions(id) ON DELETE CASCADE,
    chunk_index  INTEGER NOT NULL,
    data         BYTEA NOT NULL,
    size         INTEGER NOT NULL,
    duration     DOUBLE PRECISION NOT NULL,
    captured_at  TIMESTAMPTZ NOT NULL,
    transcript   TEXT,
    uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_audio_chunks_session ON audio_chunks(session_id, chunk_index);
`

// foreignKeyViolation is the SQLSTATE for a missing referenced row
const foreignKeyViolation = "23503"

// Postgres is a Store backed by a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and applies the schema
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Ping implements Store
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store
func (p *Postgres) Close() {
	p.pool.Close()
}

// PutChunk implements ChunkStore. The xmax system column is zero only for a row
// inserted by this statement, which distinguishes a create from an overwrite.
func (p *Postgres) PutChunk(ctx context.Context, c chunk.AudioChunk) (PutResult, error) {
	if err := validateChunk(c); err != nil {
		return PutResult{}, err
	}

	id := chunk.DeriveID(c.SessionID, c.Index)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return PutResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created bool
	err = tx.QueryRow(ctx, `
		INSERT INTO audio_chunks (id, session_id, chunk_index, data, size, duration, captured_at, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			duration = EXCLUDED.duration,
			captured_at = EXCLUDED.captured_at,
			transcript = COALESCE(EXCLUDED.transcript, audio_chunks.transcript),
			uploaded_at = now()
		RETURNING (xmax = 0) AS inserted`,
		id, c.SessionID, c.Index, c.Data, len(c.Data), c.Duration, defaultCapturedAt(c.CapturedAt), c.Transcript,
	).Scan(&created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return PutResult{}, fmt.Errorf("%w: %s", chunk.ErrSessionNotFound, c.SessionID)
		}
		return PutResult{}, fmt.Errorf("upsert chunk: %w", err)
	}

	if created {
		if _, err := tx.Exec(ctx, `
			UPDATE recording_sessions SET chunks_count = chunks_count + 1, updated_at = now()
			WHERE id = $1`, c.SessionID,
		); err != nil {
			return PutResult{}, fmt.Errorf("increment chunk count: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PutResult{}, fmt.Errorf("commit: %w", err)
	}
	return PutResult{ID: id, Created: created}, nil
}

// ListChunks implements ChunkStore
func (p *Postgres) ListChunks(ctx context.Context, sessionID string, withPayload bool) ([]chunk.AudioChunk, error) {
	query := `
		SELECT id, chunk_index, size, duration, captured_at, transcript, NULL::bytea
		FROM audio_chunks WHERE session_id = $1 ORDER BY chunk_index`
	if withPayload {
		query = `
		SELECT id, chunk_index, size, duration, captured_at, transcript, data
		FROM audio_chunks WHERE session_id = $1 ORDER BY chunk_index`
	}

	rows, err := p.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []chunk.AudioChunk
	for rows.Next() {
		c := chunk.AudioChunk{SessionID: sessionID}
		if err := rows.Scan(&c.ID, &c.Index, &c.Size, &c.Duration, &c.CapturedAt, &c.Transcript, &c.Data); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// MaxIndex implements ChunkStore
func (p *Postgres) MaxIndex(ctx context.Context, sessionID string) (int, error) {
	var highest int
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(chunk_index), -1) FROM audio_chunks WHERE session_id = $1`, sessionID,
	).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("query max index: %w", err)
	}
	return highest, nil
}

const sessionColumns = `id, owner, status, duration, chunks_count, recording_started_at, created_at, updated_at`

func scanSession(row pgx.Row) (*chunk.Session, error) {
	var (
		s      chunk.Session
		status string
	)
	if err := row.Scan(&s.ID, &s.Owner, &status, &s.Duration, &s.ChunksCount, &s.RecordingStartedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chunk.ErrSessionNotFound
		}
		return nil, err
	}
	s.Status = chunk.Status(status)
	return &s, nil
}

// CreateSession implements SessionStore
func (p *Postgres) CreateSession(ctx context.Context, owner string) (*chunk.Session, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO recording_sessions (id, owner, status)
		VALUES ($1, $2, $3)
		RETURNING `+sessionColumns,
		chunk.NewSessionID(), owner, string(chunk.StatusPending),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession implements SessionStore
func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*chunk.Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM recording_sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return s, nil
}

// UpdateStatus implements SessionStore
func (p *Postgres) UpdateStatus(ctx context.Context, sessionID string, status chunk.Status, duration *float64) (*chunk.Session, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		current         string
		currentDuration *float64
	)
	err = tx.QueryRow(ctx, `SELECT status, duration FROM recording_sessions WHERE id = $1 FOR UPDATE`, sessionID).
		Scan(&current, &currentDuration)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", chunk.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	if err := checkTransition(chunk.Status(current), status, currentDuration, duration); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE recording_sessions SET
			status = $2,
			duration = COALESCE($3, duration),
			recording_started_at = CASE
				WHEN recording_started_at IS NULL AND $2 = 'recording' THEN now()
				ELSE recording_started_at
			END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns,
		sessionID, string(status), duration,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}
