// Package history persists the command audit trail in the SQLite
// metastore. Writes are best-effort from the executor's point of view; a
// history failure never fails the mutation that produced it.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"tableforge/internal/domain"
)

// Compile-time check.
var _ domain.HistoryRepository = (*Repository)(nil)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 100

// Repository stores history entries. It follows the split-pool SQLite
// convention: one single-connection write pool, one read pool.
type Repository struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewRepository creates a Repository over the metastore pools.
func NewRepository(writeDB, readDB *sql.DB) *Repository {
	return &Repository{writeDB: writeDB, readDB: readDB}
}

// Insert appends one history entry.
func (r *Repository) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	const q = `INSERT INTO command_history
		(id, table_name, command_id, command_type, label, params_json, tier, action, status, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.writeDB.ExecContext(ctx, q,
		e.ID, e.Table, e.CommandID, e.CommandType, e.Label, e.ParamsJSON,
		e.Tier, e.Action, e.Status, e.Error, e.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns a table's history, newest first.
func (r *Repository) List(ctx context.Context, table string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	const q = `SELECT id, table_name, command_id, command_type, label, params_json, tier, action, status, error, executed_at
		FROM command_history WHERE table_name = ? ORDER BY executed_at DESC, rowid DESC LIMIT ?`
	rows, err := r.readDB.QueryContext(ctx, q, table, limit)
	if err != nil {
		return nil, fmt.Errorf("list history for %q: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Table, &e.CommandID, &e.CommandType, &e.Label,
			&e.ParamsJSON, &e.Tier, &e.Action, &e.Status, &e.Error, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes entries executed before the cutoff (unix
// milliseconds) and returns how many were removed. Called by the
// retention sweeper.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoffMillis int64) (int64, error) {
	res, err := r.writeDB.ExecContext(ctx,
		`DELETE FROM command_history WHERE executed_at < ?`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}
