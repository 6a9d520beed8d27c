// Package expr is a small typed expression builder for column
// transformations. Expressions are composed as an AST (input placeholder,
// column refs, literals, function calls) and rendered to DuckDB SQL only
// at the boundary, so no user-supplied string is ever spliced into a
// statement unquoted.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"tableforge/internal/ddl"
)

// Node is a renderable expression. Render receives the SQL of the chain
// input (the prior result in a version stack, or the base column) and
// returns the SQL of this node. Node satisfies domain.Expression.
type Node interface {
	Render(inner string) string
	Describe() string
}

// Input is the chain-input placeholder: it renders as whatever SQL the
// caller threads through.
type Input struct{}

func (Input) Render(inner string) string { return inner }
func (Input) Describe() string           { return "input" }

// Column references a named column of the current table.
type Column string

func (c Column) Render(string) string { return ddl.QuoteIdentifier(string(c)) }
func (c Column) Describe() string     { return string(c) }

// String is a string literal.
type String string

func (s String) Render(string) string { return ddl.QuoteLiteral(string(s)) }
func (s String) Describe() string     { return strconv.Quote(string(s)) }

// Int is an integer literal.
type Int int64

func (i Int) Render(string) string { return strconv.FormatInt(int64(i), 10) }
func (i Int) Describe() string     { return strconv.FormatInt(int64(i), 10) }

// Call is a function application over child nodes.
type Call struct {
	Name string
	Args []Node
}

func (c Call) Render(inner string) string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.Render(inner)
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

func (c Call) Describe() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.Describe()
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

// Cast renders CAST(<arg> AS <type>). The type is validated at
// construction by the builders below, never taken verbatim from a caller.
type Cast struct {
	Arg Node
	To  string
}

func (c Cast) Render(inner string) string {
	return fmt.Sprintf("CAST(%s AS %s)", c.Arg.Render(inner), c.To)
}

func (c Cast) Describe() string {
	return fmt.Sprintf("CAST(%s AS %s)", c.Arg.Describe(), c.To)
}

// === Builders for the Tier-1 command set ===

// Identity returns the input unchanged. Materialization leaves a single
// identity entry on a collapsed stack.
func Identity() Node { return Input{} }

// Trim strips leading and trailing whitespace.
func Trim() Node { return Call{Name: "TRIM", Args: []Node{Input{}}} }

// Lower folds the input to lowercase.
func Lower() Node { return Call{Name: "LOWER", Args: []Node{Input{}}} }

// Upper folds the input to uppercase.
func Upper() Node { return Call{Name: "UPPER", Args: []Node{Input{}}} }

// Replace substitutes every occurrence of search with replacement.
func Replace(search, replacement string) Node {
	return Call{Name: "REPLACE", Args: []Node{Input{}, String(search), String(replacement)}}
}

// LPad left-pads the input to width with fill.
func LPad(width int, fill string) Node {
	return Call{Name: "LPAD", Args: []Node{Input{}, Int(int64(width)), String(fill)}}
}

// RPad right-pads the input to width with fill.
func RPad(width int, fill string) Node {
	return Call{Name: "RPAD", Args: []Node{Input{}, Int(int64(width)), String(fill)}}
}

// RoundNumber casts the input to DOUBLE and rounds to the given number of
// decimal places.
func RoundNumber(decimals int) Node {
	return Call{Name: "ROUND", Args: []Node{Cast{Arg: Input{}, To: "DOUBLE"}, Int(int64(decimals))}}
}
