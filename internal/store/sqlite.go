// Package store persists flow checkpoints in SQLite so a conversation thread
// survives process restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/session"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements flow.Checkpointer backed by SQLite. Thread state is
// serialized through the session snapshot codec so the in-memory types are
// rebuilt exactly on load.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the checkpoint database.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers during writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT PRIMARY KEY,
		next_node TEXT NOT NULL,
		done INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts a thread's checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, cp *flow.Checkpoint) error {
	stateJSON, err := session.EncodeState(cp.State)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ThreadID, err)
	}

	now := time.Now().Unix()
	query := `
		INSERT INTO checkpoints (thread_id, next_node, done, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			next_node = excluded.next_node,
			done = excluded.done,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	done := 0
	if cp.Done {
		done = 1
	}
	if _, err := s.db.ExecContext(ctx, query, cp.ThreadID, cp.Next, done, string(stateJSON), now, now); err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.ThreadID, err)
	}
	return nil
}

// Load retrieves a thread's checkpoint, or nil if the thread is unknown.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*flow.Checkpoint, error) {
	query := `SELECT next_node, done, state_json, updated_at FROM checkpoints WHERE thread_id = ?`
	row := s.db.QueryRowContext(ctx, query, threadID)

	var next, stateJSON string
	var done int
	var updatedAt int64

	err := row.Scan(&next, &done, &stateJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint %s: %w", threadID, err)
	}

	state, err := session.DecodeState([]byte(stateJSON))
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}

	return &flow.Checkpoint{
		ThreadID:  threadID,
		Next:      next,
		Done:      done != 0,
		State:     state,
		UpdatedAt: time.Unix(updatedAt, 0),
	}, nil
}

// Delete removes a thread's checkpoint. Deleting an unknown thread is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// CleanupStale removes checkpoints not touched within the TTL and returns
// the number of evicted threads.
func (s *SQLiteStore) CleanupStale(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup stale checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count evicted checkpoints: %w", err)
	}
	return n, nil
}
