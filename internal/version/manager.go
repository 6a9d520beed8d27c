// Package version implements Tier-1 undo: column versioning. A column's
// live value is the nested application of an expression stack over an
// immutable base snapshot of the column; transforms push expressions,
// undo pops them, and long stacks are collapsed ("materialized") into the
// base column to bound nesting depth and generated SQL size.
package version

import (
	"context"
	"fmt"
	"log/slog"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
	"tableforge/internal/snapshot"
)

const (
	// DefaultMaterializeThreshold is the stack depth that triggers a collapse.
	DefaultMaterializeThreshold = 10

	// LargeTableMaterializeThreshold applies above LargeTableRowLimit rows,
	// where rebuild cost makes deep stacks more expensive.
	LargeTableMaterializeThreshold = 5

	// LargeTableRowLimit is the row count above which the lower threshold applies.
	LargeTableRowLimit = 500_000

	// baseSuffix names the immutable backing column.
	baseSuffix = "__base"

	// rebuildSuffix names the transient table used by create-select-swap.
	rebuildSuffix = "__rebuild"
)

// Options tunes the manager; zero values mean the defaults above.
type Options struct {
	MaterializeThreshold      int
	LargeMaterializeThreshold int
	LargeTableRowLimit        int64
}

// ApplyResult reports the outcome of a version push.
type ApplyResult struct {
	BaseColumn      string
	ExpressionCount int
	Materialized    bool
}

// UndoResult reports the outcome of a version pop.
type UndoResult struct {
	ExpressionsRemaining int
	FullyRestored        bool
}

// Manager owns the Tier-1 path. It mutates tables only through
// create-select-swap rebuilds, so a failure before the final rename
// leaves the original table untouched.
type Manager struct {
	store  domain.StoreAdapter
	snaps  *snapshot.Manager
	logger *slog.Logger
	opts   Options
}

// NewManager creates a version Manager.
func NewManager(store domain.StoreAdapter, snaps *snapshot.Manager, logger *slog.Logger, opts Options) *Manager {
	if opts.MaterializeThreshold <= 0 {
		opts.MaterializeThreshold = DefaultMaterializeThreshold
	}
	if opts.LargeMaterializeThreshold <= 0 {
		opts.LargeMaterializeThreshold = LargeTableMaterializeThreshold
	}
	if opts.LargeTableRowLimit <= 0 {
		opts.LargeTableRowLimit = LargeTableRowLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, snaps: snaps, logger: logger, opts: opts}
}

// BaseColumnName returns the backing column name for a live column.
func BaseColumnName(column string) string { return column + baseSuffix }

// renderStack folds the expression stack over the base column,
// bottom-to-top, producing the full nested expression SQL.
func renderStack(stack []domain.ExpressionEntry, baseColumn string) string {
	sql := ddl.QuoteIdentifier(baseColumn)
	for _, e := range stack {
		sql = e.Expression.Render(sql)
	}
	return sql
}

// rebuildSwap materializes selectSQL into a transient table, then swaps
// it into place. The original table is dropped only after the new one was
// fully built.
func (m *Manager) rebuildSwap(ctx context.Context, table, selectSQL string) error {
	tmp := table + rebuildSuffix
	dropTmp, err := ddl.DropTable(tmp, true)
	if err != nil {
		return err
	}
	if err := m.store.Execute(ctx, dropTmp); err != nil {
		return fmt.Errorf("clear rebuild table: %w", err)
	}
	create, err := ddl.CreateTableAsSelect(tmp, selectSQL)
	if err != nil {
		return err
	}
	if err := m.store.Execute(ctx, create); err != nil {
		return fmt.Errorf("build %q: %w", tmp, err)
	}
	dropLive, err := ddl.DropTable(table, false)
	if err != nil {
		return err
	}
	if err := m.store.Execute(ctx, dropLive); err != nil {
		return fmt.Errorf("drop live table: %w", err)
	}
	rename, err := ddl.RenameTable(tmp, table)
	if err != nil {
		return err
	}
	if err := m.store.Execute(ctx, rename); err != nil {
		return fmt.Errorf("swap rebuild into place: %w", err)
	}
	return nil
}

// Apply pushes an expression onto the column's version stack and rebuilds
// the live column. The first transform on a column creates its base twin;
// crossing the materialization threshold collapses the stack afterwards.
// On rebuild failure the in-memory stack is left at its pre-push value.
func (m *Manager) Apply(ctx context.Context, table string, set *domain.VersionSet, column string, e domain.Expression, commandID string) (*ApplyResult, error) {
	if err := ddl.ValidateIdentifier(column); err != nil {
		return nil, domain.ErrValidation("invalid column name %q: %v", column, err)
	}
	entry := domain.ExpressionEntry{Expression: e, CommandID: commandID}
	info := set.Get(column)

	quotedCol := ddl.QuoteIdentifier(column)
	if info == nil {
		base := BaseColumnName(column)
		cols, err := m.store.TableColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if c.Name == base {
				return nil, domain.ErrConflict("backup column %q already exists on %q", base, table)
			}
		}
		// The live column becomes expression(original); the original
		// values move into the base twin, appended at the end so the
		// visible column order is preserved.
		selectSQL := fmt.Sprintf("SELECT * REPLACE (%s AS %s), %s AS %s FROM %s",
			e.Render(quotedCol), quotedCol, quotedCol,
			ddl.QuoteIdentifier(base), ddl.QuoteIdentifier(table))
		if err := m.rebuildSwap(ctx, table, selectSQL); err != nil {
			return nil, err
		}
		info = &domain.ColumnVersionInfo{
			OriginalColumn: column,
			BaseColumn:     base,
			Stack:          []domain.ExpressionEntry{entry},
		}
		set.Put(column, info)
	} else {
		next := make([]domain.ExpressionEntry, len(info.Stack), len(info.Stack)+1)
		copy(next, info.Stack)
		next = append(next, entry)
		selectSQL := fmt.Sprintf("SELECT * REPLACE (%s AS %s) FROM %s",
			renderStack(next, info.BaseColumn), quotedCol, ddl.QuoteIdentifier(table))
		if err := m.rebuildSwap(ctx, table, selectSQL); err != nil {
			// Stack rolls back by never being committed.
			return nil, err
		}
		info.Stack = next
	}

	res := &ApplyResult{BaseColumn: info.BaseColumn, ExpressionCount: len(info.Stack)}
	threshold, err := m.thresholdFor(ctx, table)
	if err != nil {
		m.logger.Warn("row count for materialization check failed", "table", table, "error", err)
		return res, nil
	}
	if len(info.Stack) > threshold {
		if err := m.materialize(ctx, table, info); err != nil {
			// The stack is still valid; collapse is retried on the next push.
			m.logger.Warn("materialization failed", "table", table, "column", column, "error", err)
			return res, nil
		}
		res.Materialized = true
		res.ExpressionCount = len(info.Stack)
	}
	return res, nil
}

func (m *Manager) thresholdFor(ctx context.Context, table string) (int, error) {
	count, err := ddl.CountRows(table)
	if err != nil {
		return 0, err
	}
	rows, err := m.store.Query(ctx, count)
	if err != nil || len(rows) == 0 {
		return m.opts.MaterializeThreshold, err
	}
	if n, ok := rows[0]["n"].(int64); ok && n > m.opts.LargeTableRowLimit {
		return m.opts.LargeMaterializeThreshold, nil
	}
	return m.opts.MaterializeThreshold, nil
}

// materialize collapses the stack: the computed live value is copied into
// the base column and the stack resets to a single identity entry. A
// boundary snapshot is taken first so the pre-collapse table still exists
// until an undo attempts to cross the boundary. Live data values do not
// change, only the internal representation.
func (m *Manager) materialize(ctx context.Context, table string, info *domain.ColumnVersionInfo) error {
	ref, err := m.snaps.CreateUntracked(ctx, table)
	if err != nil {
		return fmt.Errorf("boundary snapshot: %w", err)
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s",
		ddl.QuoteIdentifier(table),
		ddl.QuoteIdentifier(info.BaseColumn),
		ddl.QuoteIdentifier(info.OriginalColumn))
	if err := m.store.Execute(ctx, stmt); err != nil {
		if relErr := m.snaps.Release(ctx, table, ref.ID); relErr != nil {
			m.logger.Warn("release boundary snapshot failed", "snapshot", ref.ID, "error", relErr)
		}
		return fmt.Errorf("collapse into base column: %w", err)
	}
	info.MaterializationPosition = len(info.Stack)
	info.MaterializationSnapshot = ref.ID
	info.Stack = []domain.ExpressionEntry{{Materialized: true, Expression: identityExpr{}}}
	m.logger.Info("expression stack materialized",
		"table", table, "column", info.OriginalColumn, "collapsed", info.MaterializationPosition)
	return nil
}

// identityExpr renders its input unchanged; it is the single entry left
// on a collapsed stack.
type identityExpr struct{}

func (identityExpr) Render(inner string) string { return inner }
func (identityExpr) Describe() string           { return "identity" }

// Undo pops the top expression and rebuilds the column from the shorter
// stack. Popping the last entry restores the base values and drops the
// backup column entirely. Popping a materialized entry is impossible: the
// boundary snapshot is released and UNDO_UNAVAILABLE returned.
func (m *Manager) Undo(ctx context.Context, table string, set *domain.VersionSet, column string) (*UndoResult, error) {
	info := set.Get(column)
	if info == nil || len(info.Stack) == 0 {
		return nil, domain.ErrValidation("column %q on %q has no version history", column, table)
	}

	top := info.Stack[len(info.Stack)-1]
	if top.Materialized {
		if info.MaterializationSnapshot != "" {
			if err := m.snaps.Release(ctx, table, info.MaterializationSnapshot); err != nil {
				m.logger.Warn("release boundary snapshot failed",
					"snapshot", info.MaterializationSnapshot, "error", err)
			}
			info.MaterializationSnapshot = ""
		}
		return nil, domain.ErrUndoUnavailable(
			"undo for column %q on %q crosses a materialization boundary", column, table)
	}

	quotedCol := ddl.QuoteIdentifier(column)
	remaining := info.Stack[:len(info.Stack)-1]
	if len(remaining) == 0 {
		// Full restore: live column takes the base values, base twin goes away.
		selectSQL := fmt.Sprintf("SELECT * EXCLUDE (%s) REPLACE (%s AS %s) FROM %s",
			ddl.QuoteIdentifier(info.BaseColumn),
			ddl.QuoteIdentifier(info.BaseColumn), quotedCol,
			ddl.QuoteIdentifier(table))
		if err := m.rebuildSwap(ctx, table, selectSQL); err != nil {
			return nil, err
		}
		set.Remove(column)
		return &UndoResult{ExpressionsRemaining: 0, FullyRestored: true}, nil
	}

	selectSQL := fmt.Sprintf("SELECT * REPLACE (%s AS %s) FROM %s",
		renderStack(remaining, info.BaseColumn), quotedCol, ddl.QuoteIdentifier(table))
	if err := m.rebuildSwap(ctx, table, selectSQL); err != nil {
		return nil, err
	}
	info.Stack = remaining
	return &UndoResult{ExpressionsRemaining: len(remaining)}, nil
}

// DropState discards version tracking for a table's columns without
// touching the table (used when the table itself is dropped or replaced
// by a snapshot restore).
func (m *Manager) DropState(ctx context.Context, table string, set *domain.VersionSet) {
	for _, col := range set.Columns() {
		info := set.Get(col)
		if info != nil && info.MaterializationSnapshot != "" {
			if err := m.snaps.Release(ctx, table, info.MaterializationSnapshot); err != nil {
				m.logger.Warn("release boundary snapshot failed",
					"snapshot", info.MaterializationSnapshot, "error", err)
			}
		}
		set.Remove(col)
	}
}
