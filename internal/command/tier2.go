package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

// orderStride is the id spacing after a rebalance of the ordering column.
// Midpoint insertion halves gaps, so a stride of 100 absorbs several
// consecutive inserts at the same position before the next rebalance.
const orderStride = 100

// ErrSnapshotRequired is returned when a command must rebalance the
// ordering column but holds no pre-execution snapshot. A rebalance
// rewrites every row id, which invalidates the inverse statements stored
// by earlier commands; only a snapshot keeps their undo exact. The
// executor takes one and reruns the command.
var ErrSnapshotRequired = errors.New("ordering rebalance requires a snapshot")

var (
	_ domain.DirectCommand = (*updateCellsCommand)(nil)
	_ domain.DirectCommand = (*deleteRowsCommand)(nil)
	_ domain.DirectCommand = (*insertRowCommand)(nil)
	_ domain.DirectCommand = (*renameColumnCommand)(nil)
)

// cellEdit is one (row, new value) pair of an update_cells command.
type cellEdit struct {
	RowID int64
	Value any
}

// updateCellsCommand sets new values for specific cells of one column.
// Its inverse is an UPDATE restoring the captured before-values.
type updateCellsCommand struct {
	id     string
	column string
	edits  []cellEdit
	params map[string]any

	inverse string
}

// NewUpdateCells edits cells of one column, keyed by ordering id.
func NewUpdateCells(id, column string, edits map[int64]any) (domain.Command, error) {
	if len(edits) == 0 {
		return nil, domain.ErrValidation("at least one cell edit is required")
	}
	c := &updateCellsCommand{id: id, column: column}
	editParams := make([]map[string]any, 0, len(edits))
	for rowID, v := range edits {
		c.edits = append(c.edits, cellEdit{RowID: rowID, Value: v})
		editParams = append(editParams, map[string]any{"row_id": rowID, "value": v})
	}
	c.params = map[string]any{"column": column, "edits": editParams}
	return c, nil
}

func (c *updateCellsCommand) ID() string               { return c.id }
func (c *updateCellsCommand) Type() domain.CommandType { return domain.CmdUpdateCells }
func (c *updateCellsCommand) Label() string {
	return fmt.Sprintf("Edit %d cells in %s", len(c.edits), c.column)
}
func (c *updateCellsCommand) Params() map[string]any { return c.params }
func (c *updateCellsCommand) InverseSQL() string     { return c.inverse }

func (c *updateCellsCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(domain.CmdUpdateCells),
		Detail: fmt.Sprintf("%d cells in column %q", len(c.edits), c.column),
	}
}

func (c *updateCellsCommand) rowIDList() string {
	ids := make([]string, len(c.edits))
	for i, e := range c.edits {
		ids[i] = fmt.Sprint(e.RowID)
	}
	return strings.Join(ids, ", ")
}

func (c *updateCellsCommand) AffectedRowsPredicate() string {
	return fmt.Sprintf("%s IN (%s)", ddl.QuoteIdentifier(domain.OrderColumn), c.rowIDList())
}

func (c *updateCellsCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if err := validColumnTarget(c.column); err != nil {
		return err
	}
	if !cc.HasColumn(c.column) {
		return domain.ErrValidation("column %q does not exist on %q", c.column, cc.Table)
	}
	return nil
}

// caseUpdate builds: UPDATE "t" SET "col" = CASE "_row_id" WHEN id THEN
// value ... ELSE "col" END WHERE "_row_id" IN (ids). One statement covers
// every edit, so forward and inverse are each a single UPDATE.
func caseUpdate(table, column string, values map[int64]any, idList string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s = CASE %s",
		ddl.QuoteIdentifier(table), ddl.QuoteIdentifier(column),
		ddl.QuoteIdentifier(domain.OrderColumn))
	for id, v := range values {
		fmt.Fprintf(&b, " WHEN %d THEN %s", id, renderValue(v))
	}
	fmt.Fprintf(&b, " ELSE %s END WHERE %s IN (%s)",
		ddl.QuoteIdentifier(column), ddl.QuoteIdentifier(domain.OrderColumn), idList)
	return b.String()
}

func (c *updateCellsCommand) Execute(ctx context.Context, cc *domain.CommandContext) (*domain.ExecutionResult, error) {
	idList := c.rowIDList()

	// Capture before-values; they are the inverse.
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
		ddl.QuoteIdentifier(domain.OrderColumn), ddl.QuoteIdentifier(c.column),
		ddl.QuoteIdentifier(cc.Table), ddl.QuoteIdentifier(domain.OrderColumn), idList)
	rows, err := cc.Store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("capture before-values: %w", err)
	}
	if len(rows) != len(c.edits) {
		return nil, domain.ErrValidation("update targets %d rows but matched %d", len(c.edits), len(rows))
	}
	before := make(map[int64]any, len(rows))
	changes := make([]domain.CellChange, 0, len(rows))
	newValues := make(map[int64]any, len(c.edits))
	for _, e := range c.edits {
		newValues[e.RowID] = e.Value
	}
	for _, r := range rows {
		id, ok := toInt(r[domain.OrderColumn])
		if !ok {
			return nil, fmt.Errorf("ordering column %q is not integral", domain.OrderColumn)
		}
		before[id] = r[c.column]
		changes = append(changes, domain.CellChange{
			RowID: id, Column: c.column, Before: r[c.column], After: newValues[id],
		})
	}

	if err := cc.Store.Execute(ctx, caseUpdate(cc.Table, c.column, newValues, idList)); err != nil {
		return nil, fmt.Errorf("update cells: %w", err)
	}
	c.inverse = caseUpdate(cc.Table, c.column, before, idList)

	return &domain.ExecutionResult{
		Success:       true,
		RowCount:      cc.RowCount,
		Affected:      int64(len(c.edits)),
		SampleChanges: changes,
	}, nil
}

// deleteRowsCommand removes rows by ordering id. Its inverse is an INSERT
// of the captured rows, ids included, so undo restores both values and
// positions.
type deleteRowsCommand struct {
	id     string
	rowIDs []int64
	params map[string]any

	inverse string
}

// NewDeleteRows deletes the rows with the given ordering ids.
func NewDeleteRows(id string, rowIDs []int64) (domain.Command, error) {
	if len(rowIDs) == 0 {
		return nil, domain.ErrValidation("at least one row id is required")
	}
	ids := make([]any, len(rowIDs))
	for i, r := range rowIDs {
		ids[i] = r
	}
	return &deleteRowsCommand{
		id: id, rowIDs: rowIDs,
		params: map[string]any{"row_ids": ids},
	}, nil
}

func (c *deleteRowsCommand) ID() string               { return c.id }
func (c *deleteRowsCommand) Type() domain.CommandType { return domain.CmdDeleteRows }
func (c *deleteRowsCommand) Label() string            { return fmt.Sprintf("Delete %d rows", len(c.rowIDs)) }
func (c *deleteRowsCommand) Params() map[string]any   { return c.params }
func (c *deleteRowsCommand) InverseSQL() string       { return c.inverse }

func (c *deleteRowsCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(domain.CmdDeleteRows),
		Detail: fmt.Sprintf("%d rows", len(c.rowIDs)),
	}
}

func (c *deleteRowsCommand) idList() string {
	ids := make([]string, len(c.rowIDs))
	for i, r := range c.rowIDs {
		ids[i] = fmt.Sprint(r)
	}
	return strings.Join(ids, ", ")
}

func (c *deleteRowsCommand) AffectedRowsPredicate() string {
	return fmt.Sprintf("%s IN (%s)", ddl.QuoteIdentifier(domain.OrderColumn), c.idList())
}

func (c *deleteRowsCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if !cc.HasColumn(domain.OrderColumn) {
		return domain.ErrValidation("table %q has no ordering column", cc.Table)
	}
	return nil
}

func (c *deleteRowsCommand) Execute(ctx context.Context, cc *domain.CommandContext) (*domain.ExecutionResult, error) {
	idList := c.idList()

	// Capture the full rows; re-inserting them is the inverse.
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
		ddl.QuoteIdentifier(cc.Table), ddl.QuoteIdentifier(domain.OrderColumn), idList)
	rows, err := cc.Store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("capture deleted rows: %w", err)
	}
	if len(rows) != len(c.rowIDs) {
		return nil, domain.ErrValidation("delete targets %d rows but matched %d", len(c.rowIDs), len(rows))
	}

	colNames := make([]string, len(cc.Columns))
	quoted := make([]string, len(cc.Columns))
	for i, col := range cc.Columns {
		colNames[i] = col.Name
		quoted[i] = ddl.QuoteIdentifier(col.Name)
	}
	tuples := make([]string, len(rows))
	for i, r := range rows {
		vals := make([]string, len(colNames))
		for j, name := range colNames {
			vals[j] = renderValue(r[name])
		}
		tuples[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	c.inverse = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ddl.QuoteIdentifier(cc.Table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))

	del := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		ddl.QuoteIdentifier(cc.Table), ddl.QuoteIdentifier(domain.OrderColumn), idList)
	if err := cc.Store.Execute(ctx, del); err != nil {
		return nil, fmt.Errorf("delete rows: %w", err)
	}

	return &domain.ExecutionResult{
		Success:  true,
		RowCount: cc.RowCount - int64(len(rows)),
		Affected: int64(len(rows)),
	}, nil
}

// insertRowCommand inserts one row, positioned by midpoint insertion into
// the sparse ordering ids. The generated id is captured into Params so a
// redo recreates the row at the same id, keeping later Tier-2 inverses
// (which reference ids) valid across undo/redo cycles.
type insertRowCommand struct {
	id          string
	values      map[string]any
	insertAfter int64
	hasAfter    bool
	params      map[string]any

	rowID   int64
	hasID   bool
	inverse string
}

// NewInsertRow inserts a row with the given column values after the row
// with ordering id insertAfter; a nil insertAfter prepends.
func NewInsertRow(id string, values map[string]any, insertAfter *int64) (domain.Command, error) {
	if len(values) == 0 {
		return nil, domain.ErrValidation("at least one column value is required")
	}
	c := &insertRowCommand{id: id, values: values}
	c.params = map[string]any{"values": values}
	if insertAfter != nil {
		c.insertAfter = *insertAfter
		c.hasAfter = true
		c.params["insert_after"] = *insertAfter
	}
	return c, nil
}

// withCapturedRowID pre-seeds the generated id; used by the registry when
// recreating the command from recorded parameters for redo.
func (c *insertRowCommand) withCapturedRowID(rowID int64) {
	c.rowID = rowID
	c.hasID = true
	c.params["row_id"] = rowID
}

func (c *insertRowCommand) ID() string               { return c.id }
func (c *insertRowCommand) Type() domain.CommandType { return domain.CmdInsertRow }
func (c *insertRowCommand) Label() string            { return "Insert row" }
func (c *insertRowCommand) Params() map[string]any   { return c.params }
func (c *insertRowCommand) InverseSQL() string       { return c.inverse }

func (c *insertRowCommand) AuditInfo() domain.AuditInfo {
	detail := "prepended"
	if c.hasAfter {
		detail = fmt.Sprintf("after row %d", c.insertAfter)
	}
	return domain.AuditInfo{Action: string(domain.CmdInsertRow), Detail: detail}
}

func (c *insertRowCommand) AffectedRowsPredicate() string {
	if !c.hasID {
		return ""
	}
	return fmt.Sprintf("%s = %d", ddl.QuoteIdentifier(domain.OrderColumn), c.rowID)
}

func (c *insertRowCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	for col := range c.values {
		if err := validColumnTarget(col); err != nil {
			return err
		}
		if !cc.HasColumn(col) {
			return domain.ErrValidation("column %q does not exist on %q", col, cc.Table)
		}
	}
	return nil
}

// queryInt64 runs a single-row aggregate and returns column `n`, with ok
// reporting whether the value was non-NULL.
func queryInt64(ctx context.Context, cc *domain.CommandContext, q string) (int64, bool, error) {
	rows, err := cc.Store.Query(ctx, q)
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 || rows[0]["n"] == nil {
		return 0, false, nil
	}
	n, ok := toInt(rows[0]["n"])
	return n, ok, nil
}

// rebalance rewrites the ordering column to multiples of the stride,
// preserving relative order, via a build-new-then-rename rebuild.
func rebalance(ctx context.Context, cc *domain.CommandContext) error {
	tmp := cc.Table + "__rebuild"
	drop, err := ddl.DropTable(tmp, true)
	if err != nil {
		return err
	}
	if err := cc.Store.Execute(ctx, drop); err != nil {
		return err
	}
	sel := fmt.Sprintf(
		"SELECT * REPLACE (CAST(ROW_NUMBER() OVER (ORDER BY %s) * %d AS BIGINT) AS %s) FROM %s",
		ddl.QuoteIdentifier(domain.OrderColumn), orderStride,
		ddl.QuoteIdentifier(domain.OrderColumn), ddl.QuoteIdentifier(cc.Table))
	create, err := ddl.CreateTableAsSelect(tmp, sel)
	if err != nil {
		return err
	}
	if err := cc.Store.Execute(ctx, create); err != nil {
		return fmt.Errorf("rebalance rebuild: %w", err)
	}
	dropLive, err := ddl.DropTable(cc.Table, false)
	if err != nil {
		return err
	}
	if err := cc.Store.Execute(ctx, dropLive); err != nil {
		return err
	}
	rename, err := ddl.RenameTable(tmp, cc.Table)
	if err != nil {
		return err
	}
	if err := cc.Store.Execute(ctx, rename); err != nil {
		return fmt.Errorf("rebalance swap: %w", err)
	}
	cc.Logger.Info("ordering column rebalanced", "table", cc.Table)
	return nil
}

// chooseRowID picks the ordering id for the new row, rebalancing first
// when the target gap is exhausted.
func (c *insertRowCommand) chooseRowID(ctx context.Context, cc *domain.CommandContext) (int64, error) {
	orderCol := ddl.QuoteIdentifier(domain.OrderColumn)
	table := ddl.QuoteIdentifier(cc.Table)

	if !c.hasAfter {
		min, ok, err := queryInt64(ctx, cc, fmt.Sprintf("SELECT MIN(%s) AS n FROM %s", orderCol, table))
		if err != nil {
			return 0, err
		}
		if !ok {
			return orderStride, nil // empty table
		}
		if min <= 1 {
			if !cc.SnapshotTaken {
				return 0, ErrSnapshotRequired
			}
			if err := rebalance(ctx, cc); err != nil {
				return 0, err
			}
			min = orderStride
		}
		return min / 2, nil
	}

	// Row number of the anchor; survives a rebalance, unlike its id.
	pos, ok, err := queryInt64(ctx, cc, fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM %s WHERE %s <= %d", table, orderCol, c.insertAfter))
	if err != nil {
		return 0, err
	}
	if !ok || pos == 0 {
		return 0, domain.ErrValidation("row %d does not exist on %q", c.insertAfter, cc.Table)
	}
	anchor := c.insertAfter

	next, hasNext, err := queryInt64(ctx, cc, fmt.Sprintf(
		"SELECT MIN(%s) AS n FROM %s WHERE %s > %d", orderCol, table, orderCol, anchor))
	if err != nil {
		return 0, err
	}
	if !hasNext {
		return anchor + orderStride, nil // appending at the end
	}
	if next-anchor <= 1 {
		if !cc.SnapshotTaken {
			return 0, ErrSnapshotRequired
		}
		if err := rebalance(ctx, cc); err != nil {
			return 0, err
		}
		anchor = pos * orderStride
		next = anchor + orderStride
	}
	return anchor + (next-anchor)/2, nil
}

func (c *insertRowCommand) Execute(ctx context.Context, cc *domain.CommandContext) (*domain.ExecutionResult, error) {
	if !c.hasID {
		rowID, err := c.chooseRowID(ctx, cc)
		if err != nil {
			return nil, err
		}
		c.withCapturedRowID(rowID)
	}

	cols := []string{ddl.QuoteIdentifier(domain.OrderColumn)}
	vals := []string{fmt.Sprint(c.rowID)}
	for col, v := range c.values {
		cols = append(cols, ddl.QuoteIdentifier(col))
		vals = append(vals, renderValue(v))
	}
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ddl.QuoteIdentifier(cc.Table), strings.Join(cols, ", "), strings.Join(vals, ", "))
	if err := cc.Store.Execute(ctx, ins); err != nil {
		return nil, fmt.Errorf("insert row: %w", err)
	}
	c.inverse = fmt.Sprintf("DELETE FROM %s WHERE %s = %d",
		ddl.QuoteIdentifier(cc.Table), ddl.QuoteIdentifier(domain.OrderColumn), c.rowID)

	return &domain.ExecutionResult{
		Success:  true,
		RowCount: cc.RowCount + 1,
		Affected: 1,
	}, nil
}

// renameColumnCommand renames a column; the inverse is the reverse rename.
type renameColumnCommand struct {
	id       string
	from, to string
	params   map[string]any
	table    string
}

// NewRenameColumn renames column from to to.
func NewRenameColumn(id, from, to string) (domain.Command, error) {
	if err := validColumnTarget(from); err != nil {
		return nil, err
	}
	if err := validColumnTarget(to); err != nil {
		return nil, err
	}
	return &renameColumnCommand{
		id: id, from: from, to: to,
		params: map[string]any{"from": from, "to": to},
	}, nil
}

func (c *renameColumnCommand) ID() string                    { return c.id }
func (c *renameColumnCommand) Type() domain.CommandType      { return domain.CmdRenameColumn }
func (c *renameColumnCommand) Label() string                 { return fmt.Sprintf("Rename %s to %s", c.from, c.to) }
func (c *renameColumnCommand) Params() map[string]any        { return c.params }
func (c *renameColumnCommand) AffectedRowsPredicate() string { return "" }

func (c *renameColumnCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(domain.CmdRenameColumn),
		Detail: fmt.Sprintf("%q to %q", c.from, c.to),
	}
}

func (c *renameColumnCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if !cc.HasColumn(c.from) {
		return domain.ErrValidation("column %q does not exist on %q", c.from, cc.Table)
	}
	if cc.HasColumn(c.to) {
		return domain.ErrConflict("column %q already exists on %q", c.to, cc.Table)
	}
	if cc.Versions.Get(c.from) != nil {
		return domain.ErrConflict("column %q has pending version history; undo it before renaming", c.from)
	}
	return nil
}

func (c *renameColumnCommand) InverseSQL() string {
	stmt, err := ddl.RenameColumn(c.table, c.to, c.from)
	if err != nil {
		return ""
	}
	return stmt
}

func (c *renameColumnCommand) Execute(ctx context.Context, cc *domain.CommandContext) (*domain.ExecutionResult, error) {
	stmt, err := ddl.RenameColumn(cc.Table, c.from, c.to)
	if err != nil {
		return nil, err
	}
	if err := cc.Store.Execute(ctx, stmt); err != nil {
		return nil, fmt.Errorf("rename column: %w", err)
	}
	c.table = cc.Table
	return &domain.ExecutionResult{
		Success:            true,
		RowCount:           cc.RowCount,
		NewColumnNames:     []string{c.to},
		DroppedColumnNames: []string{c.from},
	}, nil
}
