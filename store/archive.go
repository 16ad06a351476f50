package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Archive is the optional completed-execution persistence sink: a
// narrow archival write path behind this single-method surface — the
// core engine never reads it back. Grounded on common/db's pgxpool
// usage.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wraps a pgx pool. A nil pool makes Save a no-op so the
// engine can run without Postgres configured.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

const createArchiveTableSQL = `
CREATE TABLE IF NOT EXISTS execution_archive (
	execution_id TEXT PRIMARY KEY,
	diagram_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	state JSONB NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ
)`

// EnsureSchema creates the archive table if it does not already exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	_, err := a.pool.Exec(ctx, createArchiveTableSQL)
	return err
}

// Save persists a terminal ExecutionState snapshot. A nil pool makes
// this a no-op, keeping archival entirely optional from the core's
// point of view.
func (a *Archive) Save(ctx context.Context, state ExecutionState) error {
	if a.pool == nil {
		return nil
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("archive: marshal state: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO execution_archive (execution_id, diagram_id, status, state, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id) DO UPDATE
		SET status = EXCLUDED.status, state = EXCLUDED.state, ended_at = EXCLUDED.ended_at
	`, state.ID, state.DiagramID, state.Status, blob, state.StartedAt, state.EndedAt)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", state.ID, err)
	}
	return nil
}
