// Package ddl builds the DuckDB statements the mutation engine issues:
// table rebuilds, staging swaps, shard import/export, and checkpoints.
// Every identifier passes validation before it is interpolated.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxIdentifierLen is the maximum length allowed for a SQL identifier.
const maxIdentifierLen = 128

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 128 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them (standard SQL).
//
// Always quotes unconditionally — the caller should validate first if needed.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// CreateTableAsSelect returns: CREATE TABLE "<table>" AS <selectSQL>.
// The select text is produced by the expression builder or a command's
// BuildSelect, never by raw user input.
func CreateTableAsSelect(table, selectSQL string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if strings.TrimSpace(selectSQL) == "" {
		return "", fmt.Errorf("select statement is required")
	}
	return fmt.Sprintf("CREATE TABLE %s AS %s", QuoteIdentifier(table), selectSQL), nil
}

// InsertIntoSelect returns: INSERT INTO "<table>" <selectSQL>.
func InsertIntoSelect(table, selectSQL string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if strings.TrimSpace(selectSQL) == "" {
		return "", fmt.Errorf("select statement is required")
	}
	return fmt.Sprintf("INSERT INTO %s %s", QuoteIdentifier(table), selectSQL), nil
}

// DropTable returns: DROP TABLE [IF EXISTS] "<table>".
func DropTable(table string, ifExists bool) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if ifExists {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table)), nil
	}
	return fmt.Sprintf("DROP TABLE %s", QuoteIdentifier(table)), nil
}

// RenameTable returns: ALTER TABLE "<from>" RENAME TO "<to>".
// Paired with DropTable this is the atomic publish step of every rebuild:
// build new, drop old, rename new into place.
func RenameTable(from, to string) (string, error) {
	if err := ValidateIdentifier(from); err != nil {
		return "", fmt.Errorf("invalid source table name: %w", err)
	}
	if err := ValidateIdentifier(to); err != nil {
		return "", fmt.Errorf("invalid target table name: %w", err)
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdentifier(from), QuoteIdentifier(to)), nil
}

// RenameColumn returns: ALTER TABLE "<table>" RENAME COLUMN "<from>" TO "<to>".
func RenameColumn(table, from, to string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := ValidateIdentifier(from); err != nil {
		return "", fmt.Errorf("invalid source column name: %w", err)
	}
	if err := ValidateIdentifier(to); err != nil {
		return "", fmt.Errorf("invalid target column name: %w", err)
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		QuoteIdentifier(table), QuoteIdentifier(from), QuoteIdentifier(to)), nil
}

// DuplicateTable returns: CREATE TABLE "<copy>" AS SELECT * FROM "<source>".
// Used for full-table snapshots and snapshot restore.
func DuplicateTable(source, copy string) (string, error) {
	if err := ValidateIdentifier(source); err != nil {
		return "", fmt.Errorf("invalid source table name: %w", err)
	}
	if err := ValidateIdentifier(copy); err != nil {
		return "", fmt.Errorf("invalid copy table name: %w", err)
	}
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		QuoteIdentifier(copy), QuoteIdentifier(source)), nil
}

// CopyToParquet returns: COPY (SELECT * FROM "<table>") TO '<path>' (FORMAT PARQUET).
func CopyToParquet(table, path string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("output path is required")
	}
	return fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET)",
		QuoteIdentifier(table), QuoteLiteral(path)), nil
}

// CreateTableFromParquet returns: CREATE TABLE "<table>" AS SELECT * FROM read_parquet('<path>').
func CreateTableFromParquet(table, path string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("input path is required")
	}
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM read_parquet(%s)",
		QuoteIdentifier(table), QuoteLiteral(path)), nil
}

// InsertFromParquet returns: INSERT INTO "<table>" SELECT * FROM read_parquet('<path>').
func InsertFromParquet(table, path string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("input path is required")
	}
	return fmt.Sprintf("INSERT INTO %s SELECT * FROM read_parquet(%s)",
		QuoteIdentifier(table), QuoteLiteral(path)), nil
}

// CountRows returns: SELECT COUNT(*) AS n FROM "<table>".
func CountRows(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", QuoteIdentifier(table)), nil
}
