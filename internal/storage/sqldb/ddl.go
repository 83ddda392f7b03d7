package sqldb

import (
	"fmt"
	"strings"

	"medallion/internal/table"
)

// FQN quotes a schema-qualified name. An empty schema yields the bare table.
func FQN(d Dialect, schema, name string) string {
	if strings.TrimSpace(schema) == "" {
		return d.QuoteIdent(name)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(name)
}

// CreateTableSQL renders a CREATE TABLE statement for cols. Every column is
// nullable; the medallion layers carry missing values as NULL.
//
//	CREATE TABLE "t" (
//	  "col1" TYPE,
//	  "col2" TYPE
//	)
func CreateTableSQL(d Dialect, fqn string, cols []table.Column) (string, error) {
	if strings.TrimSpace(fqn) == "" {
		return "", fmt.Errorf("%s ddl: table name must not be empty", d.Name())
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name())
	}
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name(), fqn)
		}
		defs = append(defs, d.QuoteIdent(c.Name)+" "+d.ColumnType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", fqn, strings.Join(defs, ",\n  ")), nil
}

// DropTableSQL renders DROP TABLE IF EXISTS, which all supported dialects
// accept.
func DropTableSQL(fqn string) string {
	return "DROP TABLE IF EXISTS " + fqn
}

// InsertSQL renders a multi-row INSERT for rows rows of len(columns) values.
func InsertSQL(d Dialect, fqn string, columns []string, rows int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(fqn)
	sb.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.QuoteIdent(c))
	}
	sb.WriteString(") VALUES ")
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(n))
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// rowsPerStatement caps the batch so one INSERT stays under MaxParams.
func rowsPerStatement(d Dialect, batch, cols int) int {
	if cols == 0 {
		return batch
	}
	limit := d.MaxParams() / cols
	if limit < 1 {
		limit = 1
	}
	return min(batch, limit)
}
