package domain

// ExpressionEntry is one frame of a column's version stack.
type ExpressionEntry struct {
	Expression Expression
	CommandID  string

	// Materialized marks the identity entry left behind when a stack is
	// collapsed into the base column. Undo cannot pop past it.
	Materialized bool
}

// ColumnVersionInfo tracks the Tier-1 version state of one column.
//
// Invariant: the live column's value equals the nested application of
// Stack (bottom-to-top, each entry consuming the prior result) over
// BaseColumn.
type ColumnVersionInfo struct {
	OriginalColumn string
	BaseColumn     string
	Stack          []ExpressionEntry

	// MaterializationSnapshot is the snapshot taken when the stack was
	// last collapsed; "" when the column has never materialized. Released
	// (and undo permanently disabled) if an undo attempts to cross the
	// boundary.
	MaterializationSnapshot string

	// MaterializationPosition is the stack length at the last collapse.
	MaterializationPosition int
}

// VersionSet holds the version state for every Tier-1-touched column of
// one table. Created on the table's first Tier-1 transform and owned by
// the command executor; destroyed when the table is dropped.
type VersionSet struct {
	columns map[string]*ColumnVersionInfo
}

// NewVersionSet returns an empty VersionSet.
func NewVersionSet() *VersionSet {
	return &VersionSet{columns: make(map[string]*ColumnVersionInfo)}
}

// Get returns the version info for a column, or nil when the column has
// no Tier-1 history.
func (vs *VersionSet) Get(column string) *ColumnVersionInfo {
	return vs.columns[column]
}

// Put registers version info for a column.
func (vs *VersionSet) Put(column string, info *ColumnVersionInfo) {
	vs.columns[column] = info
}

// Remove deletes a column's version info (full restore).
func (vs *VersionSet) Remove(column string) {
	delete(vs.columns, column)
}

// Columns returns the names of all versioned columns.
func (vs *VersionSet) Columns() []string {
	out := make([]string, 0, len(vs.columns))
	for c := range vs.columns {
		out = append(out, c)
	}
	return out
}
