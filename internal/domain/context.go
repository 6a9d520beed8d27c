package domain

import "log/slog"

// ProgressFunc reports paging/sharding progress to the caller.
type ProgressFunc func(current, total int, percent float64)

// BatchOptions tunes the paged execution paths.
type BatchOptions struct {
	// BatchSize is the page size for the staging batch executor.
	// Zero means the default (50,000 rows).
	BatchSize int

	// Progress, when non-nil, is invoked after every page or shard.
	Progress ProgressFunc
}

// CommandContext is the per-invocation handle a command receives. It is
// never persisted; the executor rebuilds it from current table state
// before every invocation.
type CommandContext struct {
	Store    StoreAdapter
	Table    string
	Columns  []ColumnInfo
	RowCount int64

	// Versions holds the table's per-column Tier-1 version state.
	Versions *VersionSet

	// SnapshotTaken reports that the executor holds a pre-execution
	// snapshot of the table for this invocation. Commands must not
	// destructively rework the table (ordering rebalance) without one.
	SnapshotTaken bool

	Batch  BatchOptions
	Logger *slog.Logger
}

// HasColumn reports whether the target table currently has the column.
func (cc *CommandContext) HasColumn(name string) bool {
	for _, c := range cc.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
