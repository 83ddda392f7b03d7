// Package mssql registers the "mssql" storage backend. Rows are loaded with
// the go-mssqldb bulk copy API inside the same transaction that recreates
// the table.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"medallion/internal/storage"
	"medallion/internal/storage/sqldb"
	"medallion/internal/table"
)

// DefaultSchema is used when storage.Config.Schema is empty.
const DefaultSchema = "dbo"

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

func open(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	if cfg.Schema == "" {
		cfg.Schema = DefaultSchema
	}
	return sqldb.Open(ctx, Dialect{}, cfg)
}

// Dialect describes T-SQL.
type Dialect struct{}

var _ sqldb.BulkCopier = Dialect{}

func (Dialect) Name() string       { return "mssql" }
func (Dialect) DriverName() string { return "sqlserver" }

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// MaxParams stays below the 2100 parameter limit of a single RPC.
func (Dialect) MaxParams() int { return 2000 }

var quote = sqldb.QuoteWith("[", "]")

func (Dialect) QuoteIdent(id string) string { return quote(id) }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "FLOAT"
	case table.Bool:
		return "BIT"
	case table.Timestamp:
		return "DATETIME2(7)"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (Dialect) ParseColumnType(dbType string) table.Type {
	return sqldb.ParseTypeOr(dbType)
}

func (Dialect) ListTablesQuery(schema string) (string, []any) {
	if schema == "" {
		schema = DefaultSchema
	}
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_SCHEMA = @p1", []any{schema}
}

// BindValue drops the location from timestamps; DATETIME2 has no offset.
func (Dialect) BindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC()
	}
	return v
}

// CopyIn performs a bulk insert into fqn within tx.
func (Dialect) CopyIn(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(fqn, mssql.BulkOptions{Tablock: true}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
