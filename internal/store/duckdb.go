// Package store adapts an embedded DuckDB connection to the
// domain.StoreAdapter port consumed by the mutation engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"tableforge/internal/domain"
)

// Compile-time check.
var _ domain.StoreAdapter = (*Adapter)(nil)

// Adapter wraps a *sql.DB opened with the duckdb driver. The engine core
// treats it as an opaque columnar store: statements in, rows out.
type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAdapter creates an Adapter over the given DuckDB connection.
func NewAdapter(db *sql.DB, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{db: db, logger: logger}
}

// Query executes a SELECT and materializes every row into a map keyed by
// column name. Callers are paged components; result sets are bounded by
// their page sizes, never by the table size.
func (a *Adapter) Query(ctx context.Context, sqlQuery string) ([]domain.Row, error) {
	rows, err := a.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []domain.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(domain.Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Execute runs a statement that returns no rows.
func (a *Adapter) Execute(ctx context.Context, sqlStmt string) error {
	if _, err := a.db.ExecContext(ctx, sqlStmt); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// TableColumns reports the columns of a table in ordinal position order.
func (a *Adapter) TableColumns(ctx context.Context, table string) ([]domain.ColumnInfo, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_name = ? ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("table columns: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []domain.ColumnInfo
	for rows.Next() {
		var c domain.ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if len(cols) == 0 {
		return nil, domain.ErrNotFound("table %q not found", table)
	}
	return cols, nil
}

// TableExists reports whether the table is present in the engine.
func (a *Adapter) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("table exists: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return rows.Next(), nil
}

// Checkpoint forces a durability checkpoint.
func (a *Adapter) Checkpoint(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
