package command

import (
	"context"
	"fmt"

	"tableforge/internal/domain"
	"tableforge/internal/expr"
)

// Compile-time check: Tier-1 commands run through the version manager.
var _ domain.ColumnExpressionCommand = (*exprCommand)(nil)

// exprCommand is the shared shape of every Tier-1 command: one target
// column, one pure expression, executed by the column version manager.
type exprCommand struct {
	id     string
	ctype  domain.CommandType
	label  string
	column string
	e      domain.Expression
	params map[string]any
}

func (c *exprCommand) ID() string                    { return c.id }
func (c *exprCommand) Type() domain.CommandType      { return c.ctype }
func (c *exprCommand) Label() string                 { return c.label }
func (c *exprCommand) Params() map[string]any        { return c.params }
func (c *exprCommand) TargetColumn() string          { return c.column }
func (c *exprCommand) Expression() domain.Expression { return c.e }
func (c *exprCommand) AffectedRowsPredicate() string { return "" }

func (c *exprCommand) Validate(_ context.Context, cc *domain.CommandContext) error {
	if err := validColumnTarget(c.column); err != nil {
		return err
	}
	if !cc.HasColumn(c.column) {
		return domain.ErrValidation("column %q does not exist on %q", c.column, cc.Table)
	}
	return nil
}

func (c *exprCommand) AuditInfo() domain.AuditInfo {
	return domain.AuditInfo{
		Action: string(c.ctype),
		Detail: fmt.Sprintf("%s on column %q", c.e.Describe(), c.column),
	}
}

// NewTrimColumn strips leading and trailing whitespace from a column.
func NewTrimColumn(id, column string) domain.Command {
	return &exprCommand{
		id: id, ctype: domain.CmdTrimColumn,
		label:  fmt.Sprintf("Trim %s", column),
		column: column, e: expr.Trim(),
		params: map[string]any{"column": column},
	}
}

// NewLowercaseColumn folds a column to lowercase.
func NewLowercaseColumn(id, column string) domain.Command {
	return &exprCommand{
		id: id, ctype: domain.CmdLowercaseColumn,
		label:  fmt.Sprintf("Lowercase %s", column),
		column: column, e: expr.Lower(),
		params: map[string]any{"column": column},
	}
}

// NewUppercaseColumn folds a column to uppercase.
func NewUppercaseColumn(id, column string) domain.Command {
	return &exprCommand{
		id: id, ctype: domain.CmdUppercaseColumn,
		label:  fmt.Sprintf("Uppercase %s", column),
		column: column, e: expr.Upper(),
		params: map[string]any{"column": column},
	}
}

// NewReplaceText substitutes every occurrence of search in a column.
func NewReplaceText(id, column, search, replacement string) (domain.Command, error) {
	if search == "" {
		return nil, domain.ErrValidation("search text must not be empty")
	}
	return &exprCommand{
		id: id, ctype: domain.CmdReplaceText,
		label:  fmt.Sprintf("Replace %q in %s", search, column),
		column: column, e: expr.Replace(search, replacement),
		params: map[string]any{"column": column, "search": search, "replacement": replacement},
	}, nil
}

// NewPadColumn pads a column to a fixed width. side is "left" or "right".
func NewPadColumn(id, column, side string, width int, fill string) (domain.Command, error) {
	if width <= 0 {
		return nil, domain.ErrValidation("pad width must be positive")
	}
	if fill == "" {
		fill = " "
	}
	var e domain.Expression
	switch side {
	case "left":
		e = expr.LPad(width, fill)
	case "right":
		e = expr.RPad(width, fill)
	default:
		return nil, domain.ErrValidation("pad side must be %q or %q, got %q", "left", "right", side)
	}
	return &exprCommand{
		id: id, ctype: domain.CmdPadColumn,
		label:  fmt.Sprintf("Pad %s to %d", column, width),
		column: column, e: e,
		params: map[string]any{"column": column, "side": side, "width": width, "fill": fill},
	}, nil
}

// NewNumberFormat rounds a numeric column to a number of decimal places.
func NewNumberFormat(id, column string, decimals int) (domain.Command, error) {
	if decimals < 0 || decimals > 15 {
		return nil, domain.ErrValidation("decimals must be between 0 and 15, got %d", decimals)
	}
	return &exprCommand{
		id: id, ctype: domain.CmdNumberFormat,
		label:  fmt.Sprintf("Round %s to %d decimals", column, decimals),
		column: column, e: expr.RoundNumber(decimals),
		params: map[string]any{"column": column, "decimals": decimals},
	}, nil
}
