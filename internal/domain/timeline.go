package domain

import "time"

// TimelineRecord is one executed command in a table's timeline, carrying
// everything its tier needs for undo and redo. Owned exclusively by the
// per-table Timeline.
type TimelineRecord struct {
	ID          string         `json:"id"`
	CommandType CommandType    `json:"command_type"`
	Label       string         `json:"label"`
	Params      map[string]any `json:"params"`
	Tier        Tier           `json:"tier"`

	// SnapshotID references the pre-execution snapshot (Tier 3); "" when
	// none was taken.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// BackupColumn is the Tier-1 base column created for this command's
	// target, when it was the first transform on that column.
	BackupColumn string `json:"backup_column,omitempty"`

	// TargetColumn is the Tier-1 column this record versioned.
	TargetColumn string `json:"target_column,omitempty"`

	// InverseSQL is the Tier-2 reversal statement.
	InverseSQL string `json:"inverse_sql,omitempty"`

	RowPredicate    string       `json:"row_predicate,omitempty"`
	AffectedColumns []string     `json:"affected_columns,omitempty"`
	CellChanges     []CellChange `json:"cell_changes,omitempty"`

	// UndoDisabled is set permanently when the record's snapshot is
	// evicted (or an earlier one is — eviction propagates backwards) or
	// when a materialization boundary forecloses Tier-1 undo.
	UndoDisabled bool `json:"undo_disabled"`

	ExecutedAt time.Time `json:"executed_at"`
}
