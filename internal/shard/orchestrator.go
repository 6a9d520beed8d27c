package shard

import (
	"context"
	"fmt"
	"log/slog"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

const (
	// checkpointEveryShards bounds write-ahead growth between shards.
	checkpointEveryShards = 2

	// auditSampleRows is the number of rows captured for before/after samples.
	auditSampleRows = 5
)

// Orchestrator runs a select transform shard-by-shard. The live table is
// dropped up front to free memory; the transform writes every output
// shard under a new manifest id, the live table is rebuilt from it, and
// only then is the new manifest swapped over the published id. Any
// failure before the swap rolls back to the original manifest.
type Orchestrator struct {
	engine domain.StoreAdapter
	shards domain.ShardStore
	logger *slog.Logger
}

// NewOrchestrator creates a shard Orchestrator.
func NewOrchestrator(engine domain.StoreAdapter, shards domain.ShardStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: engine, shards: shards, logger: logger}
}

// RunOptions tunes a single orchestrated transform.
type RunOptions struct {
	Progress domain.ProgressFunc

	// SamplePredicate optionally narrows the audit sample to rows the
	// transform is expected to touch. Empty means sample from the top.
	SamplePredicate string
}

func inputTableName(table string) string  { return table + "__shard_in" }
func outputTableName(table string) string { return table + "__shard_out" }

// Run streams the transform over every shard of manifestID. buildSelect
// receives the name of the per-shard input table and returns the SELECT
// producing that shard's output. On success the returned manifest is
// republished under the original id, so callers keep using manifestID.
func (o *Orchestrator) Run(ctx context.Context, table, manifestID string, buildSelect func(inputTable string) string, opts RunOptions) (*domain.ExecutionResult, error) {
	orig, err := o.shards.ReadManifest(ctx, manifestID)
	if err != nil {
		return nil, err
	}

	beforeSample := o.captureSample(ctx, table, opts.SamplePredicate)

	// Free the engine's copy before streaming; the shards on disk remain
	// the source of truth until the final swap.
	if err := o.dropTable(ctx, table, false); err != nil {
		return nil, fmt.Errorf("drop live table before streaming: %w", err)
	}
	if err := o.engine.Checkpoint(ctx); err != nil {
		return nil, o.recover(ctx, table, orig, "", fmt.Errorf("checkpoint after drop: %w", err))
	}

	newID := NewManifestID()
	in := inputTableName(table)
	out := outputTableName(table)

	next := &domain.ShardManifest{SnapshotID: newID, Table: table, OrderByColumn: orig.OrderByColumn}
	totalShards := len(orig.Shards)
	for i, sh := range orig.Shards {
		if err := ctx.Err(); err != nil {
			return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("transform aborted between shards: %w", err))
		}

		if err := o.shards.ImportShard(ctx, in, sh); err != nil {
			return nil, o.recover(ctx, table, orig, newID, err)
		}
		create, err := ddl.CreateTableAsSelect(out, buildSelect(in))
		if err == nil {
			err = o.engine.Execute(ctx, create)
		}
		if err != nil {
			return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("transform shard %d: %w", sh.Index, err))
		}

		if i == 0 {
			// The first output shard defines the transformed schema.
			cols, err := o.engine.TableColumns(ctx, out)
			if err != nil {
				return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("probe output schema: %w", err))
			}
			next.Columns = cols
		}

		info, err := o.shards.ExportShard(ctx, out, newID, i)
		if err != nil {
			return nil, o.recover(ctx, table, orig, newID, err)
		}
		next.Shards = append(next.Shards, info)
		next.TotalRows += info.Rows

		if err := o.dropTempTables(ctx, table); err != nil {
			return nil, o.recover(ctx, table, orig, newID, err)
		}
		if (i+1)%checkpointEveryShards == 0 {
			if err := o.engine.Checkpoint(ctx); err != nil {
				return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("checkpoint after shard %d: %w", i, err))
			}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, totalShards, float64(i+1)/float64(totalShards)*100)
		}
	}

	if err := o.shards.WriteManifest(ctx, next); err != nil {
		return nil, o.recover(ctx, table, orig, newID, err)
	}
	if err := o.shards.ImportTableFromManifest(ctx, table, next); err != nil {
		return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("rebuild live table: %w", err))
	}
	if err := o.shards.SwapManifests(ctx, manifestID, newID, manifestID); err != nil {
		// The rebuilt live table may be the transformed data, but the
		// published manifest is still the original; tear down and rebuild
		// the original so disk and engine agree.
		if dropErr := o.dropTable(ctx, table, true); dropErr == nil {
			return nil, o.recover(ctx, table, orig, newID, fmt.Errorf("publish manifest swap: %w", err))
		}
		return nil, domain.ErrDataSafe(
			"manifest swap for %q failed and the live table could not be reset; data safe on disk, reload to recover: %v", table, err)
	}
	if err := o.engine.Checkpoint(ctx); err != nil {
		o.logger.Warn("checkpoint after swap failed", "table", table, "error", err)
	}

	colNames := make([]string, len(next.Columns))
	for i, c := range next.Columns {
		colNames[i] = c.Name
	}
	result := &domain.ExecutionResult{Success: true, RowCount: next.TotalRows, Columns: colNames}
	o.diffSamples(ctx, table, beforeSample, opts.SamplePredicate, result)
	o.logger.Info("shard transform complete",
		"table", table, "shards", totalShards, "rows", next.TotalRows)
	return result, nil
}

// recover rolls back a failed transform: temp tables are dropped, the
// staged manifest (if any) deleted, and the live table rebuilt from the
// original manifest. A failure during recovery itself is reported as a
// DataSafeError since the original shards are still intact on disk.
func (o *Orchestrator) recover(ctx context.Context, table string, orig *domain.ShardManifest, newID string, cause error) error {
	o.logger.Error("shard transform failed, rolling back", "table", table, "error", cause)

	// Rollback must proceed even when the transform was canceled.
	ctx = context.WithoutCancel(ctx)

	if err := o.dropTempTables(ctx, table); err != nil {
		return domain.ErrDataSafe(
			"rollback of %q could not drop temp tables; data safe on disk, reload to recover: %v (transform error: %v)",
			table, err, cause)
	}
	if newID != "" {
		if err := o.shards.DeleteManifest(ctx, newID); err != nil {
			o.logger.Warn("delete staged manifest failed", "manifest", newID, "error", err)
		}
	}
	if err := o.dropTable(ctx, table, true); err != nil {
		return domain.ErrDataSafe(
			"rollback of %q could not drop the partial live table; data safe on disk, reload to recover: %v (transform error: %v)",
			table, err, cause)
	}
	if err := o.shards.ImportTableFromManifest(ctx, table, orig); err != nil {
		return domain.ErrDataSafe(
			"rollback of %q could not rebuild the live table; data safe on disk, reload to recover: %v (transform error: %v)",
			table, err, cause)
	}
	return cause
}

func (o *Orchestrator) dropTable(ctx context.Context, table string, ifExists bool) error {
	stmt, err := ddl.DropTable(table, ifExists)
	if err != nil {
		return err
	}
	return o.engine.Execute(ctx, stmt)
}

func (o *Orchestrator) dropTempTables(ctx context.Context, table string) error {
	for _, t := range []string{inputTableName(table), outputTableName(table)} {
		stmt, err := ddl.DropTable(t, true)
		if err != nil {
			return err
		}
		if err := o.engine.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("drop temp table %q: %w", t, err)
		}
	}
	return nil
}

// captureSample reads a handful of rows for the audit trail. Best-effort:
// a failure here never fails the transform.
func (o *Orchestrator) captureSample(ctx context.Context, table, predicate string) []domain.Row {
	q := fmt.Sprintf("SELECT * FROM %s", ddl.QuoteIdentifier(table))
	if predicate != "" {
		q += " WHERE " + predicate
	}
	q += fmt.Sprintf(" LIMIT %d", auditSampleRows)
	rows, err := o.engine.Query(ctx, q)
	if err != nil {
		o.logger.Warn("audit sample capture failed", "table", table, "error", err)
		return nil
	}
	return rows
}

// diffSamples compares the before sample with the rebuilt table, matching
// rows on the ordering column, and records per-cell changes. Best-effort.
func (o *Orchestrator) diffSamples(ctx context.Context, table string, before []domain.Row, predicate string, result *domain.ExecutionResult) {
	if len(before) == 0 {
		return
	}
	after := o.captureSample(ctx, table, predicate)
	afterByID := make(map[any]domain.Row, len(after))
	for _, r := range after {
		if id, ok := r[domain.OrderColumn]; ok {
			afterByID[id] = r
		}
	}
	for _, b := range before {
		id, ok := b[domain.OrderColumn]
		if !ok {
			return
		}
		a, ok := afterByID[id]
		if !ok {
			continue
		}
		rowID, ok := asInt64(id)
		if !ok {
			continue
		}
		for col, bv := range b {
			if col == domain.OrderColumn {
				continue
			}
			if av, ok := a[col]; ok && fmt.Sprint(av) != fmt.Sprint(bv) {
				result.SampleChanges = append(result.SampleChanges, domain.CellChange{
					RowID: rowID, Column: col, Before: bv, After: av,
				})
			}
		}
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
