// Package mysql registers the "mysql" storage backend on top of
// go-sql-driver/mysql. MySQL commits DDL implicitly, so the drop and create
// of a table are not rolled back if the subsequent load fails; the next
// successful write replaces the table again.
package mysql

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"medallion/internal/storage"
	"medallion/internal/storage/sqldb"
	"medallion/internal/table"
)

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

func open(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.Schema == "" {
		cfg.Schema = dsn.DBName
	}
	return sqldb.Open(ctx, Dialect{}, cfg)
}

// Dialect describes MySQL's flavor of SQL.
type Dialect struct{}

func (Dialect) Name() string           { return "mysql" }
func (Dialect) DriverName() string     { return "mysql" }
func (Dialect) Placeholder(int) string { return "?" }
func (Dialect) MaxParams() int         { return 65535 }

var quote = sqldb.QuoteWith("`", "`")

func (Dialect) QuoteIdent(id string) string { return quote(id) }

// ColumnType maps a logical type to a MySQL column type. BOOLEAN is an alias
// for TINYINT(1), which ParseColumnType maps back to Bool.
func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE"
	case table.Bool:
		return "BOOLEAN"
	case table.Timestamp:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (Dialect) ParseColumnType(dbType string) table.Type {
	switch strings.ToUpper(dbType) {
	case "TINYINT", "BOOLEAN":
		return table.Bool
	case "LONGTEXT", "MEDIUMTEXT", "TINYTEXT":
		return table.String
	}
	return sqldb.ParseTypeOr(dbType)
}

func (Dialect) ListTablesQuery(schema string) (string, []any) {
	if schema == "" {
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'", nil
	}
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE'", []any{schema}
}

func (Dialect) BindValue(v any) any { return v }
