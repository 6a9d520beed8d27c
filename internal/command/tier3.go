package command

import (
	"context"
	"fmt"
	"strings"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

var (
	_ domain.SelectTransformCommand = (*dropColumnCommand)(nil)
	_ domain.SelectTransformCommand = (*splitColumnCommand)(nil)
	_ domain.SelectTransformCommand = (*mergeColumnsCommand)(nil)
	_ domain.SelectTransformCommand = (*deduplicateRowsCommand)(nil)
	_ domain.SelectTransformCommand = (*fillDownCommand)(nil)
	_ domain.SelectTransformCommand = (*sortTableCommand)(nil)
)

// dropColumnCommand removes a column. Destructive: undo restores the
// pre-execution snapshot.
type dropColumnCommand struct {
	id     string
	column string
	params map[string]any
}

// NewDropColumn drops the named column.
func NewDropColumn(id, column string) (domain.Command, error) {
	if err := validColumnTarget(column); err != nil {
		return nil, err
	}
	return &dropColumnCommand{
		id: id, column: column,
		params: map[string]any{"column": column},
	}, nil
}

func (c *dropColumnCommand) ID() string                    { return c.id }
func (c *dropColumnCommand) Type() domain.CommandType      { return domain.CmdDropColumn }
func (c *dropColumnCommand) Label() string                 { return fmt.Sprintf("Drop column %s", c.column) }
func (c *dropColumnCommand) Params() map[string]any        { return c.params }
func (c *dropColumnCommand) AffectedRowsPredicate() string { return "" }

func (c *dropColumnCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{Action: string(domain.CmdDropColumn), Detail: fmt.Sprintf("column %q", c.column)}
}

func (c *dropColumnCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if !cc.HasColumn(c.column) {
		return domain.ErrValidation("column %q does not exist on %q", c.column, cc.Table)
	}
	if cc.Versions.Get(c.column) != nil {
		return domain.ErrConflict("column %q has pending version history; undo it before dropping", c.column)
	}
	if len(cc.Columns) <= 2 {
		// The ordering column plus at least one data column must remain.
		return domain.ErrValidation("cannot drop the last data column of %q", cc.Table)
	}
	return nil
}

func (c *dropColumnCommand) BuildSelect(inputTable string) string {
	return fmt.Sprintf("SELECT * EXCLUDE (%s) FROM %s",
		ddl.QuoteIdentifier(c.column), ddl.QuoteIdentifier(inputTable))
}

// splitColumnCommand splits one text column on a delimiter into new
// columns, replacing the original.
type splitColumnCommand struct {
	id        string
	column    string
	delimiter string
	into      []string
	params    map[string]any
}

// NewSplitColumn splits column on delimiter into the named new columns.
func NewSplitColumn(id, column, delimiter string, into []string) (domain.Command, error) {
	if err := validColumnTarget(column); err != nil {
		return nil, err
	}
	if delimiter == "" {
		return nil, domain.ErrValidation("delimiter must not be empty")
	}
	if len(into) < 2 {
		return nil, domain.ErrValidation("split needs at least two target columns")
	}
	for _, name := range into {
		if err := validColumnTarget(name); err != nil {
			return nil, err
		}
	}
	return &splitColumnCommand{
		id: id, column: column, delimiter: delimiter, into: into,
		params: map[string]any{"column": column, "delimiter": delimiter, "into": into},
	}, nil
}

func (c *splitColumnCommand) ID() string               { return c.id }
func (c *splitColumnCommand) Type() domain.CommandType { return domain.CmdSplitColumn }
func (c *splitColumnCommand) Label() string {
	return fmt.Sprintf("Split %s into %s", c.column, strings.Join(c.into, ", "))
}
func (c *splitColumnCommand) Params() map[string]any        { return c.params }
func (c *splitColumnCommand) AffectedRowsPredicate() string { return "" }

func (c *splitColumnCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(domain.CmdSplitColumn),
		Detail: fmt.Sprintf("column %q on %q into %d columns", c.column, c.delimiter, len(c.into)),
	}
}

func (c *splitColumnCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if !cc.HasColumn(c.column) {
		return domain.ErrValidation("column %q does not exist on %q", c.column, cc.Table)
	}
	if cc.Versions.Get(c.column) != nil {
		return domain.ErrConflict("column %q has pending version history; undo it before splitting", c.column)
	}
	for _, name := range c.into {
		if cc.HasColumn(name) {
			return domain.ErrConflict("column %q already exists on %q", name, cc.Table)
		}
	}
	return nil
}

func (c *splitColumnCommand) BuildSelect(inputTable string) string {
	parts := make([]string, len(c.into))
	for i, name := range c.into {
		parts[i] = fmt.Sprintf("split_part(%s, %s, %d) AS %s",
			ddl.QuoteIdentifier(c.column), ddl.QuoteLiteral(c.delimiter), i+1,
			ddl.QuoteIdentifier(name))
	}
	return fmt.Sprintf("SELECT * EXCLUDE (%s), %s FROM %s",
		ddl.QuoteIdentifier(c.column), strings.Join(parts, ", "),
		ddl.QuoteIdentifier(inputTable))
}

// mergeColumnsCommand concatenates columns into one new column, dropping
// the sources.
type mergeColumnsCommand struct {
	id        string
	columns   []string
	delimiter string
	target    string
	params    map[string]any
}

// NewMergeColumns joins the source columns with delimiter into target.
func NewMergeColumns(id string, columns []string, delimiter, target string) (domain.Command, error) {
	if len(columns) < 2 {
		return nil, domain.ErrValidation("merge needs at least two source columns")
	}
	for _, name := range columns {
		if err := validColumnTarget(name); err != nil {
			return nil, err
		}
	}
	if err := validColumnTarget(target); err != nil {
		return nil, err
	}
	return &mergeColumnsCommand{
		id: id, columns: columns, delimiter: delimiter, target: target,
		params: map[string]any{"columns": columns, "delimiter": delimiter, "target": target},
	}, nil
}

func (c *mergeColumnsCommand) ID() string               { return c.id }
func (c *mergeColumnsCommand) Type() domain.CommandType { return domain.CmdMergeColumns }
func (c *mergeColumnsCommand) Label() string {
	return fmt.Sprintf("Merge %s into %s", strings.Join(c.columns, ", "), c.target)
}
func (c *mergeColumnsCommand) Params() map[string]any        { return c.params }
func (c *mergeColumnsCommand) AffectedRowsPredicate() string { return "" }

func (c *mergeColumnsCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(domain.CmdMergeColumns),
		Detail: fmt.Sprintf("%d columns into %q", len(c.columns), c.target),
	}
}

func (c *mergeColumnsCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	for _, name := range c.columns {
		if !cc.HasColumn(name) {
			return domain.ErrValidation("column %q does not exist on %q", name, cc.Table)
		}
		if cc.Versions.Get(name) != nil {
			return domain.ErrConflict("column %q has pending version history; undo it before merging", name)
		}
	}
	if cc.HasColumn(c.target) {
		return domain.ErrConflict("column %q already exists on %q", c.target, cc.Table)
	}
	return nil
}

func (c *mergeColumnsCommand) BuildSelect(inputTable string) string {
	args := make([]string, 0, len(c.columns)+1)
	args = append(args, ddl.QuoteLiteral(c.delimiter))
	quoted := make([]string, len(c.columns))
	for i, name := range c.columns {
		quoted[i] = ddl.QuoteIdentifier(name)
		args = append(args, fmt.Sprintf("CAST(%s AS VARCHAR)", quoted[i]))
	}
	return fmt.Sprintf("SELECT * EXCLUDE (%s), CONCAT_WS(%s) AS %s FROM %s",
		strings.Join(quoted, ", "), strings.Join(args, ", "),
		ddl.QuoteIdentifier(c.target), ddl.QuoteIdentifier(inputTable))
}

// deduplicateRowsCommand keeps the first row (lowest ordering id) of each
// group of rows identical across all data columns. The partition key is
// captured during Validate from current table state; result rows depend
// on the whole table, so this transform never runs on the shard path.
type deduplicateRowsCommand struct {
	id       string
	params   map[string]any
	dataCols []string
}

// NewDeduplicateRows removes duplicate rows, keeping the earliest.
func NewDeduplicateRows(id string) domain.Command {
	return &deduplicateRowsCommand{id: id, params: map[string]any{}}
}

func (c *deduplicateRowsCommand) ID() string                    { return c.id }
func (c *deduplicateRowsCommand) Type() domain.CommandType      { return domain.CmdDeduplicateRows }
func (c *deduplicateRowsCommand) Label() string                 { return "Remove duplicate rows" }
func (c *deduplicateRowsCommand) Params() map[string]any        { return c.params }
func (c *deduplicateRowsCommand) AffectedRowsPredicate() string { return "" }

func (c *deduplicateRowsCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{Action: string(domain.CmdDeduplicateRows), Detail: "all data columns"}
}

func (c *deduplicateRowsCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	c.dataCols = c.dataCols[:0]
	for _, col := range cc.Columns {
		if col.Name != domain.OrderColumn {
			c.dataCols = append(c.dataCols, col.Name)
		}
	}
	if len(c.dataCols) == 0 {
		return domain.ErrValidation("table %q has no data columns", cc.Table)
	}
	return nil
}

func (c *deduplicateRowsCommand) BuildSelect(inputTable string) string {
	keys := make([]string, len(c.dataCols))
	for i, name := range c.dataCols {
		keys[i] = ddl.QuoteIdentifier(name)
	}
	return fmt.Sprintf(
		"SELECT * FROM %s QUALIFY ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) = 1",
		ddl.QuoteIdentifier(inputTable), strings.Join(keys, ", "),
		ddl.QuoteIdentifier(domain.OrderColumn))
}

// fillDownCommand replaces NULLs in a column with the nearest non-NULL
// value above, in ordering-id order. The carried value crosses shard
// boundaries, so this transform never runs on the shard path.
type fillDownCommand struct {
	id     string
	column string
	params map[string]any
}

// NewFillDown fills NULL cells of column from the row above.
func NewFillDown(id, column string) (domain.Command, error) {
	if err := validColumnTarget(column); err != nil {
		return nil, err
	}
	return &fillDownCommand{
		id: id, column: column,
		params: map[string]any{"column": column},
	}, nil
}

func (c *fillDownCommand) ID() string                    { return c.id }
func (c *fillDownCommand) Type() domain.CommandType      { return domain.CmdFillDown }
func (c *fillDownCommand) Label() string                 { return fmt.Sprintf("Fill down %s", c.column) }
func (c *fillDownCommand) Params() map[string]any        { return c.params }
func (c *fillDownCommand) AffectedRowsPredicate() string { return "" }

func (c *fillDownCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{Action: string(domain.CmdFillDown), Detail: fmt.Sprintf("column %q", c.column)}
}

func (c *fillDownCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if !cc.HasColumn(c.column) {
		return domain.ErrValidation("column %q does not exist on %q", c.column, cc.Table)
	}
	if cc.Versions.Get(c.column) != nil {
		return domain.ErrConflict("column %q has pending version history; undo it before filling", c.column)
	}
	return nil
}

func (c *fillDownCommand) BuildSelect(inputTable string) string {
	col := ddl.QuoteIdentifier(c.column)
	return fmt.Sprintf(
		"SELECT * REPLACE (LAST_VALUE(%s IGNORE NULLS) OVER (ORDER BY %s ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS %s) FROM %s",
		col, ddl.QuoteIdentifier(domain.OrderColumn), col,
		ddl.QuoteIdentifier(inputTable))
}

// SortKey is one column of a sort order.
type SortKey struct {
	Column     string
	Descending bool
}

// sortTableCommand physically reorders rows. No value changes, including
// the ordering ids, so no snapshot is needed: undoing a sort is re-sorting
// by the ordering column.
type sortTableCommand struct {
	id     string
	keys   []SortKey
	params map[string]any
}

// NewSortTable reorders the table by the given keys.
func NewSortTable(id string, keys []SortKey) (domain.Command, error) {
	if len(keys) == 0 {
		return nil, domain.ErrValidation("at least one sort key is required")
	}
	keyParams := make([]map[string]any, len(keys))
	for i, k := range keys {
		if err := validColumnTarget(k.Column); err != nil {
			return nil, err
		}
		keyParams[i] = map[string]any{"column": k.Column, "descending": k.Descending}
	}
	return &sortTableCommand{
		id: id, keys: keys,
		params: map[string]any{"keys": keyParams},
	}, nil
}

func (c *sortTableCommand) ID() string               { return c.id }
func (c *sortTableCommand) Type() domain.CommandType { return domain.CmdSortTable }
func (c *sortTableCommand) Label() string {
	names := make([]string, len(c.keys))
	for i, k := range c.keys {
		names[i] = k.Column
	}
	return fmt.Sprintf("Sort by %s", strings.Join(names, ", "))
}
func (c *sortTableCommand) Params() map[string]any        { return c.params }
func (c *sortTableCommand) AffectedRowsPredicate() string { return "" }

func (c *sortTableCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{Action: string(domain.CmdSortTable), Detail: fmt.Sprintf("%d keys", len(c.keys))}
}

func (c *sortTableCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	for _, k := range c.keys {
		if !cc.HasColumn(k.Column) {
			return domain.ErrValidation("column %q does not exist on %q", k.Column, cc.Table)
		}
	}
	return nil
}

func (c *sortTableCommand) BuildSelect(inputTable string) string {
	order := make([]string, len(c.keys))
	for i, k := range c.keys {
		dir := "ASC"
		if k.Descending {
			dir = "DESC"
		}
		order[i] = ddl.QuoteIdentifier(k.Column) + " " + dir
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		ddl.QuoteIdentifier(inputTable), strings.Join(order, ", "))
}

// SortByOrderColumn is the inverse of any sort: re-sorting by the ordering
// ids restores the canonical row order.
func SortByOrderColumn(inputTable string) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s",
		ddl.QuoteIdentifier(inputTable), ddl.QuoteIdentifier(domain.OrderColumn))
}
