// Package bookkeeping provides the PostgreSQL-backed session ledger: one row
// per session plus an append-only session_events table for safety and
// analysis records.
//
// The schema is created lazily and idempotently; EnsureSchema is safe to call
// on every operation. All methods are safe for concurrent use — the
// underlying pgxpool handles connection management.
package bookkeeping

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    room_name   TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ,
    egress_id   TEXT,
    status      TEXT         NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS session_events (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id),
    event_type  TEXT         NOT NULL,
    payload     JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_events_session_id
    ON session_events (session_id);

CREATE INDEX IF NOT EXISTS idx_session_events_type
    ON session_events (event_type);
`

// Store is the session ledger. Obtain one via NewStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and returns a ready Store.
// The schema is not created here; callers run EnsureSchema before first use.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("bookkeeping: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool. Used in tests.
func NewStoreWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the sessions and session_events tables if they do not
// exist. It is idempotent and safe to call on every operation.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("bookkeeping: ensure schema: %w", err)
	}
	return nil
}

// InsertSession creates a session row in status 'active'. Inserting an id
// that already exists is a no-op so that pipeline retries cannot
// double-insert.
func (s *Store) InsertSession(ctx context.Context, sessionID, roomName string) error {
	const q = `
		INSERT INTO sessions (id, room_name, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q, sessionID, roomName); err != nil {
		return fmt.Errorf("bookkeeping: insert session: %w", err)
	}
	return nil
}

// UpdateSessionEnd marks the session ended now, recording the egress id when
// one is known.
func (s *Store) UpdateSessionEnd(ctx context.Context, sessionID, egressID string) error {
	const q = `
		UPDATE sessions
		SET    ended_at = now(), status = 'ended', egress_id = NULLIF($2, '')
		WHERE  id = $1`

	if _, err := s.pool.Exec(ctx, q, sessionID, egressID); err != nil {
		return fmt.Errorf("bookkeeping: update session end: %w", err)
	}
	return nil
}

// InsertSessionEvent appends an event row. payload is serialised to JSONB;
// events are never updated or deleted.
func (s *Store) InsertSessionEvent(ctx context.Context, sessionID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bookkeeping: marshal event payload: %w", err)
	}

	const q = `
		INSERT INTO session_events (session_id, event_type, payload)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, sessionID, eventType, body); err != nil {
		return fmt.Errorf("bookkeeping: insert session event: %w", err)
	}
	return nil
}
