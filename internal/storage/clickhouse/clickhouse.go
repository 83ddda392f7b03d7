// Package clickhouse registers the "clickhouse" storage backend. Every
// column is created Nullable so that missing values survive the round trip,
// and tables use a plain MergeTree ordered by tuple() since layers are
// always rewritten in full.
//
// ClickHouse has no multi-statement transactions: a failed load leaves a
// partially written table until the next successful write replaces it.
package clickhouse

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"medallion/internal/storage"
	"medallion/internal/table"
)

// DefaultDatabase is used when neither the DSN nor Config.Schema name one.
const DefaultDatabase = "default"

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("clickhouse", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

// Sink is a ClickHouse-backed storage.Sink.
type Sink struct {
	conn     driver.Conn
	database string
	batch    int
}

var _ storage.Sink = (*Sink)(nil)

func open(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clickhouse dsn: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	db := cfg.Schema
	if db == "" {
		db = opts.Auth.Database
	}
	if db == "" {
		db = DefaultDatabase
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = storage.DefaultBatchSize
	}
	return &Sink{conn: conn, database: db, batch: batch}, nil
}

// syncInsert makes inserted rows visible to the next read.
func syncInsert(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          0,
		"wait_for_async_insert": 1,
		"insert_deduplicate":    0,
	}))
}

func (s *Sink) fqn(name string) string {
	return quoteIdent(s.database) + "." + quoteIdent(name)
}

func (s *Sink) Write(ctx context.Context, name string, t *table.Table) error {
	if t.NumColumns() == 0 {
		return fmt.Errorf("clickhouse: write %s: table has no columns", name)
	}
	ctx = syncInsert(ctx)
	fqn := s.fqn(name)
	if err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS "+fqn); err != nil {
		return fmt.Errorf("clickhouse: drop %s: %w", name, err)
	}
	if err := s.conn.Exec(ctx, createTableSQL(fqn, t.Columns())); err != nil {
		return fmt.Errorf("clickhouse: create %s: %w", name, err)
	}
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		b, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+fqn)
		if err != nil {
			return 0, fmt.Errorf("prepare batch: %w", err)
		}
		for i, r := range rows {
			if err := b.Append(r...); err != nil {
				_ = b.Abort()
				return 0, fmt.Errorf("append row %d: %w", i, err)
			}
		}
		if err := b.Send(); err != nil {
			return 0, fmt.Errorf("send batch: %w", err)
		}
		return int64(len(rows)), nil
	}
	if _, err := storage.WriteBatches(ctx, name, t, s.batch, copyFn); err != nil {
		return fmt.Errorf("clickhouse: load %s: %w", name, err)
	}
	return nil
}

func (s *Sink) Read(ctx context.Context, name string) (*table.Table, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := slices.BinarySearch(names, name); !ok {
		return nil, storage.NotFound(name)
	}
	rows, err := s.conn.Query(ctx, "SELECT * FROM "+s.fqn(name))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: select %s: %w", name, err)
	}
	defer rows.Close()

	cts := rows.ColumnTypes()
	cols := make([]table.Column, len(cts))
	dbTypes := make([]string, len(cts))
	for i, ct := range cts {
		dbTypes[i] = ct.DatabaseTypeName()
		cols[i] = table.Column{Name: ct.Name(), Type: typeFor(dbTypes[i])}
	}
	data := make([][]any, len(cols))
	for j := range data {
		data[j] = []any{}
	}
	for rows.Next() {
		targets := scanTargets(dbTypes)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("clickhouse: scan %s: %w", name, err)
		}
		for j, p := range targets {
			v, err := table.Convert(deref(p), cols[j].Type)
			if err != nil {
				return nil, fmt.Errorf("clickhouse: read %s.%s: %w", name, cols[j].Name, err)
			}
			data[j] = append(data[j], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: rows %s: %w", name, err)
	}
	return table.New(cols, data)
}

func (s *Sink) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, "SELECT name FROM system.tables WHERE database = ?", s.database)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: list tables: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("clickhouse: list tables: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func (s *Sink) Close() error { return s.conn.Close() }

func quoteIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "\\`") + "`"
}

// columnType maps a logical type to a Nullable ClickHouse type.
func columnType(t table.Type) string {
	switch t {
	case table.Int:
		return "Nullable(Int64)"
	case table.Float:
		return "Nullable(Float64)"
	case table.Bool:
		return "Nullable(Bool)"
	case table.Timestamp:
		return "Nullable(DateTime64(9, 'UTC'))"
	default:
		return "Nullable(String)"
	}
}

func createTableSQL(fqn string, cols []table.Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.Name) + " " + columnType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n) ENGINE = MergeTree ORDER BY tuple()", fqn, strings.Join(defs, ",\n  "))
}

// baseType strips a Nullable(...) wrapper.
func baseType(dbType string) string {
	if inner, ok := strings.CutPrefix(dbType, "Nullable("); ok {
		return strings.TrimSuffix(inner, ")")
	}
	return dbType
}

func typeFor(dbType string) table.Type {
	b := baseType(dbType)
	switch {
	case b == "Bool":
		return table.Bool
	case strings.HasPrefix(b, "Int"), strings.HasPrefix(b, "UInt"):
		return table.Int
	case strings.HasPrefix(b, "Float"), strings.HasPrefix(b, "Decimal"):
		return table.Float
	case strings.HasPrefix(b, "Date"):
		return table.Timestamp
	default:
		return table.String
	}
}

// scanTargets builds pointer-to-pointer targets so Nullable columns scan
// NULL as a nil pointer.
func scanTargets(dbTypes []string) []any {
	out := make([]any, len(dbTypes))
	for i, t := range dbTypes {
		nullable := strings.HasPrefix(t, "Nullable(")
		b := baseType(t)
		switch {
		case b == "Bool":
			out[i] = target[bool](nullable)
		case b == "Int64":
			out[i] = target[int64](nullable)
		case b == "Float64":
			out[i] = target[float64](nullable)
		case strings.HasPrefix(b, "DateTime"), b == "Date", b == "Date32":
			out[i] = target[time.Time](nullable)
		default:
			out[i] = target[string](nullable)
		}
	}
	return out
}

func target[T any](nullable bool) any {
	if nullable {
		var p *T
		return &p
	}
	var v T
	return &v
}

// deref unwraps a scan target back to a plain value or nil.
func deref(p any) any {
	switch x := p.(type) {
	case **bool:
		return ptrVal(*x)
	case **int64:
		return ptrVal(*x)
	case **float64:
		return ptrVal(*x)
	case **time.Time:
		return ptrVal(*x)
	case **string:
		return ptrVal(*x)
	case *bool:
		return *x
	case *int64:
		return *x
	case *float64:
		return *x
	case *time.Time:
		return *x
	case *string:
		return *x
	}
	return nil
}

func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
