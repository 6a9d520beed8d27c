// Package staging implements the in-engine Tier-2/3 execution path: a
// transform SELECT is run in bounded LIMIT/OFFSET pages into a disposable
// staging table, which is atomically swapped over the live table on
// success. A failed batch drops the staging table and leaves the live
// table untouched — all-or-nothing from the caller's perspective.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

const (
	// DefaultBatchSize is the page size when the caller sets none.
	DefaultBatchSize = 50_000

	// checkpointEveryPages bounds write-ahead growth. Checkpointing
	// forecloses transactional rollback mid-batch; safety comes from the
	// staging table being disposable instead.
	checkpointEveryPages = 5
)

// Result reports a completed batch run.
type Result struct {
	RowsProcessed int64
	StagingTable  string
}

// Executor runs paged transforms against staging tables.
type Executor struct {
	store  domain.StoreAdapter
	logger *slog.Logger
}

// NewExecutor creates a staging Executor.
func NewExecutor(store domain.StoreAdapter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger}
}

// StagingTableName derives a fresh staging table name for a live table.
func StagingTableName(table string) string {
	return table + "__staging_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// BatchExecute pages selectQuery against sourceTable into a new staging
// table: the first page creates it, later pages append. A zero-row source
// still produces an empty staging table with the transform's schema so
// downstream column-metadata reads do not fail. The context is checked
// only between pages — a page in flight runs to completion or failure.
func (e *Executor) BatchExecute(ctx context.Context, sourceTable, selectQuery string, opts domain.BatchOptions) (*Result, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	countStmt, err := ddl.CountRows(sourceTable)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.Query(ctx, countStmt)
	if err != nil {
		return nil, fmt.Errorf("count source rows: %w", err)
	}
	var total int64
	if len(rows) > 0 {
		if n, ok := rows[0]["n"].(int64); ok {
			total = n
		}
	}

	totalPages := int((total + int64(batchSize) - 1) / int64(batchSize))
	if totalPages == 0 {
		totalPages = 1 // still create the (empty) staging table
	}

	staging := StagingTableName(sourceTable)
	for page := 0; page < totalPages; page++ {
		if err := ctx.Err(); err != nil {
			e.cleanup(ctx, staging)
			return nil, fmt.Errorf("batch aborted between pages: %w", err)
		}

		paged := fmt.Sprintf("SELECT * FROM (%s) LIMIT %d OFFSET %d",
			selectQuery, batchSize, page*batchSize)

		var stmt string
		if page == 0 {
			stmt, err = ddl.CreateTableAsSelect(staging, paged)
		} else {
			stmt, err = ddl.InsertIntoSelect(staging, paged)
		}
		if err != nil {
			e.cleanup(ctx, staging)
			return nil, err
		}
		if err := e.store.Execute(ctx, stmt); err != nil {
			e.cleanup(ctx, staging)
			return nil, fmt.Errorf("batch page %d/%d: %w", page+1, totalPages, err)
		}

		if (page+1)%checkpointEveryPages == 0 {
			if err := e.store.Checkpoint(ctx); err != nil {
				e.cleanup(ctx, staging)
				return nil, fmt.Errorf("checkpoint after page %d: %w", page+1, err)
			}
		}
		if opts.Progress != nil {
			opts.Progress(page+1, totalPages, float64(page+1)/float64(totalPages)*100)
		}
	}

	countStaging, err := ddl.CountRows(staging)
	if err != nil {
		e.cleanup(ctx, staging)
		return nil, err
	}
	rows, err = e.store.Query(ctx, countStaging)
	if err != nil {
		e.cleanup(ctx, staging)
		return nil, fmt.Errorf("count staging rows: %w", err)
	}
	var processed int64
	if len(rows) > 0 {
		if n, ok := rows[0]["n"].(int64); ok {
			processed = n
		}
	}

	return &Result{RowsProcessed: processed, StagingTable: staging}, nil
}

// SwapStagingTable atomically publishes the staging table: the live table
// is dropped and staging renamed into its place.
func (e *Executor) SwapStagingTable(ctx context.Context, live, staging string) error {
	drop, err := ddl.DropTable(live, false)
	if err != nil {
		return err
	}
	if err := e.store.Execute(ctx, drop); err != nil {
		return fmt.Errorf("drop live table %q: %w", live, err)
	}
	rename, err := ddl.RenameTable(staging, live)
	if err != nil {
		return err
	}
	if err := e.store.Execute(ctx, rename); err != nil {
		return fmt.Errorf("rename staging into place: %w", err)
	}
	return nil
}

// CleanupStagingTable drops a staging table that will not be published.
func (e *Executor) CleanupStagingTable(ctx context.Context, staging string) error {
	drop, err := ddl.DropTable(staging, true)
	if err != nil {
		return err
	}
	return e.store.Execute(ctx, drop)
}

func (e *Executor) cleanup(ctx context.Context, staging string) {
	if err := e.CleanupStagingTable(ctx, staging); err != nil {
		e.logger.Warn("staging cleanup failed", "table", staging, "error", err)
	}
}
