// Package sqlite registers the "sqlite" storage backend. It uses the pure-Go
// modernc driver, so the binary stays cgo-free. SQLite has no bulk-load API
// like Postgres COPY; batched multi-row INSERTs inside one transaction keep
// performance acceptable for moderate volumes.
package sqlite

import (
	"context"
	"strings"
	"time"

	"medallion/internal/storage"
	"medallion/internal/storage/sqldb"
	"medallion/internal/table"

	_ "modernc.org/sqlite"
)

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

func open(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	s, err := sqldb.Open(ctx, Dialect{}, cfg)
	if err != nil {
		return nil, err
	}
	// An in-memory database lives and dies with its connection.
	if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		s.DB().SetMaxOpenConns(1)
	}
	_, _ = s.DB().ExecContext(ctx, "PRAGMA journal_mode = WAL;")
	return s, nil
}

// Dialect describes SQLite's flavor of SQL.
type Dialect struct{}

func (Dialect) Name() string       { return "sqlite" }
func (Dialect) DriverName() string { return "sqlite" }
func (Dialect) Placeholder(int) string {
	return "?"
}

// MaxParams matches SQLITE_MAX_VARIABLE_NUMBER of the bundled engine.
func (Dialect) MaxParams() int { return 32766 }

func (Dialect) QuoteIdent(id string) string { return quote(id) }

var quote = sqldb.QuoteWith(`"`, `"`)

// ColumnType maps a logical type to a declared SQLite type. SQLite is
// dynamically typed; the declared names are chosen so that they round-trip
// through ParseColumnType:
//   - Bool      -> BOOLEAN (stored as 0/1)
//   - Timestamp -> TIMESTAMP (stored as RFC 3339 text)
func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.Int:
		return "INTEGER"
	case table.Float:
		return "REAL"
	case table.Bool:
		return "BOOLEAN"
	case table.Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (Dialect) ParseColumnType(dbType string) table.Type {
	return sqldb.ParseTypeOr(dbType)
}

func (Dialect) ListTablesQuery(string) (string, []any) {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'", nil
}

func (Dialect) BindValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
