package domain

// CellChange is one before/after sample captured for diffing.
type CellChange struct {
	RowID  int64  `json:"row_id"`
	Column string `json:"column"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// ExecutionResult is the outcome of a single command execution.
type ExecutionResult struct {
	Success  bool     `json:"success"`
	RowCount int64    `json:"row_count"`
	Columns  []string `json:"columns"`

	// Affected is the number of rows the command touched, when known.
	Affected int64 `json:"affected"`

	NewColumnNames     []string `json:"new_column_names,omitempty"`
	DroppedColumnNames []string `json:"dropped_column_names,omitempty"`

	// SampleChanges holds small before/after samples for the diff view.
	// Capture is best-effort and never fails the operation.
	SampleChanges []CellChange `json:"sample_changes,omitempty"`

	// SnapshotAlreadySaved is set when the executor took a pre-execution
	// snapshot, so callers don't request a second one.
	SnapshotAlreadySaved bool `json:"snapshot_already_saved,omitempty"`
}

// ExecutorResult is the envelope returned to API/audit/diff collaborators.
type ExecutorResult struct {
	Success      bool             `json:"success"`
	Execution    *ExecutionResult `json:"execution,omitempty"`
	Audit        *AuditInfo       `json:"audit,omitempty"`
	DiffViewName string           `json:"diff_view_name,omitempty"`
	Err          error            `json:"-"`
}
