package domain

import "context"

// Tier classifies the undo strategy of a command type.
//
//	Tier 1 — column versioning: cheap, column-local expression stacking.
//	Tier 2 — inverse SQL: undo executes a stored inverse statement.
//	Tier 3 — full-table snapshot: destructive or structural change.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// CommandType identifies a command variant. The tier and snapshot
// behaviour of a command are fixed properties of its type, never of an
// instance — see command.TierOf.
type CommandType string

const (
	// Tier 1 — column expression transforms.
	CmdTrimColumn      CommandType = "trim_column"
	CmdLowercaseColumn CommandType = "lowercase_column"
	CmdUppercaseColumn CommandType = "uppercase_column"
	CmdReplaceText     CommandType = "replace_text"
	CmdPadColumn       CommandType = "pad_column"
	CmdNumberFormat    CommandType = "number_format"

	// Tier 2 — row edits and renames with exact inverse statements.
	CmdUpdateCells  CommandType = "update_cells"
	CmdDeleteRows   CommandType = "delete_rows"
	CmdInsertRow    CommandType = "insert_row"
	CmdRenameColumn CommandType = "rename_column"

	// Tier 3 — structural or whole-table changes.
	CmdDropColumn      CommandType = "drop_column"
	CmdSplitColumn     CommandType = "split_column"
	CmdMergeColumns    CommandType = "merge_columns"
	CmdDeduplicateRows CommandType = "deduplicate_rows"
	CmdFillDown        CommandType = "fill_down"
	CmdSortTable       CommandType = "sort_table"
)

// AuditInfo is the human-readable description of an executed command,
// recorded in the history metastore.
type AuditInfo struct {
	Action string
	Detail string
}

// Command is the behaviour shared by every command variant. Execution
// capability is expressed through one of the narrower interfaces below
// (ColumnExpressionCommand, SelectTransformCommand, DirectCommand); the
// executor dispatches on which one a variant implements.
type Command interface {
	ID() string
	Type() CommandType
	Label() string

	// Params returns the constructor parameters plus any state captured
	// during the first execution (e.g. a generated row id). The registry
	// recreates an equivalent command from these for redo.
	Params() map[string]any

	// Validate checks parameters against current table state. It must be
	// free of side effects; validation failures reject the command before
	// any mutation.
	Validate(ctx context.Context, cc *CommandContext) error

	// AuditInfo describes the command for the history log.
	AuditInfo() AuditInfo

	// AffectedRowsPredicate returns a SQL predicate selecting the rows the
	// command touches, or "" when the whole table is affected. Used for
	// sample capture only, never for execution.
	AffectedRowsPredicate() string
}

// ColumnExpressionCommand is a Tier-1 command: a pure expression applied
// to one column, executed through the column version manager.
type ColumnExpressionCommand interface {
	Command
	TargetColumn() string
	Expression() Expression
}

// SelectTransformCommand is a whole-table transform expressed as a SELECT
// over an input table. The same SELECT drives both the staging batch path
// and the shard streaming path, which is what makes the two paths
// row-set-equivalent.
type SelectTransformCommand interface {
	Command
	BuildSelect(inputTable string) string
}

// DirectCommand executes its own DML against the live table and reports
// an inverse statement afterwards (Tier 2).
type DirectCommand interface {
	Command
	Execute(ctx context.Context, cc *CommandContext) (*ExecutionResult, error)

	// InverseSQL is valid only after Execute succeeded.
	InverseSQL() string
}

// Expression is a renderable column expression. Render receives the SQL
// of its input (the prior result in a version stack, or the base column)
// and returns the SQL of the transformed value. Implementations live in
// internal/expr; nothing in the engine concatenates raw user strings.
type Expression interface {
	Render(inner string) string

	// Describe returns a short human-readable form, e.g. "TRIM(input)".
	Describe() string
}
