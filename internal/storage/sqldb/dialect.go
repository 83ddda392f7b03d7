// Package sqldb implements storage.Sink on top of database/sql. Backends that
// speak plain SQL (sqlite, mysql, mssql) supply a Dialect describing quoting,
// placeholders and type names; the write/read/list logic is shared.
package sqldb

import (
	"context"
	"database/sql"
	"strings"

	"medallion/internal/table"
)

// Dialect captures the per-database differences the Sink needs.
type Dialect interface {
	// Name is used as an error prefix, e.g. "sqlite".
	Name() string
	// DriverName is the database/sql driver registered by the backend.
	DriverName() string
	// QuoteIdent quotes a single identifier.
	QuoteIdent(id string) string
	// Placeholder returns the bind marker for the 1-based parameter n.
	Placeholder(n int) string
	// MaxParams bounds the parameters of a single statement.
	MaxParams() int
	// ColumnType maps a logical type to the column type used in CREATE TABLE.
	ColumnType(t table.Type) string
	// ParseColumnType maps a catalog type name back to a logical type.
	ParseColumnType(dbType string) table.Type
	// ListTablesQuery returns a query yielding one table name per row.
	ListTablesQuery(schema string) (string, []any)
	// BindValue converts a canonical table value into a driver argument.
	BindValue(v any) any
}

// BulkCopier is implemented by dialects that have a faster bulk path than
// multi-row INSERT.
type BulkCopier interface {
	CopyIn(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error)
}

// ParseTypeOr maps dbType through table.ParseType after dropping any length
// suffix such as "(MAX)" and falls back to String for unknown names.
func ParseTypeOr(dbType string) table.Type {
	name := dbType
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	t, err := table.ParseType(name)
	if err != nil {
		return table.String
	}
	return t
}

// QuoteWith returns a quoting function for the given open/close pair; the
// close rune is escaped by doubling.
func QuoteWith(open, end string) func(string) string {
	return func(id string) string {
		return open + strings.ReplaceAll(id, end, end+end) + end
	}
}
