// Package postgres registers the "postgres" storage backend using pgx v5.
// Tables are recreated and loaded with COPY inside a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"medallion/internal/storage"
	"medallion/internal/storage/sqldb"
	"medallion/internal/table"
)

// DefaultSchema is used when storage.Config.Schema is empty.
const DefaultSchema = "public"

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

// Sink is a Postgres-backed storage.Sink.
type Sink struct {
	pool   *pgxpool.Pool
	schema string
	batch  int
}

var _ storage.Sink = (*Sink)(nil)

func open(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = storage.DefaultBatchSize
	}
	return &Sink{pool: pool, schema: schema, batch: batch}, nil
}

func (s *Sink) Write(ctx context.Context, name string, t *table.Table) error {
	if t.NumColumns() == 0 {
		return fmt.Errorf("postgres: write %s: table has no columns", name)
	}
	fqn := sqldb.FQN(Dialect{}, s.schema, name)
	create, err := sqldb.CreateTableSQL(Dialect{}, fqn, t.Columns())
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sqldb.DropTableSQL(fqn)); err != nil {
		return fmt.Errorf("postgres: drop %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, create); err != nil {
		return fmt.Errorf("postgres: create %s: %w", name, err)
	}
	ident := pgx.Identifier{s.schema, name}
	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		return tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	}
	if _, err := storage.WriteBatches(ctx, name, t, s.batch, copyFn); err != nil {
		return fmt.Errorf("postgres: copy %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
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

	rows, err := s.pool.Query(ctx, "SELECT * FROM "+sqldb.FQN(Dialect{}, s.schema, name))
	if err != nil {
		return nil, fmt.Errorf("postgres: select %s: %w", name, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]table.Column, len(fds))
	for i, fd := range fds {
		cols[i] = table.Column{Name: fd.Name, Type: typeForOID(fd.DataTypeOID)}
	}
	data := make([][]any, len(cols))
	for j := range data {
		data[j] = []any{}
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", name, err)
		}
		for j, raw := range vals {
			v, err := table.Convert(raw, cols[j].Type)
			if err != nil {
				return nil, fmt.Errorf("postgres: read %s.%s: %w", name, cols[j].Name, err)
			}
			data[j] = append(data[j], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows %s: %w", name, err)
	}
	return table.New(cols, data)
}

func (s *Sink) List(ctx context.Context) ([]string, error) {
	q, args := Dialect{}.ListTablesQuery(s.schema)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// typeForOID maps the column types this package creates back to logical
// types. Anything else is read as text.
func typeForOID(oid uint32) table.Type {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return table.Int
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return table.Float
	case pgtype.BoolOID:
		return table.Bool
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return table.Timestamp
	default:
		return table.String
	}
}

// Dialect renders Postgres DDL. Data moves through pgx directly, so only the
// naming and type methods are exercised at runtime.
type Dialect struct{}

func (Dialect) Name() string       { return "postgres" }
func (Dialect) DriverName() string { return "pgx" }
func (Dialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
func (Dialect) MaxParams() int { return 65535 }

var quote = sqldb.QuoteWith(`"`, `"`)

func (Dialect) QuoteIdent(id string) string { return quote(id) }

func (Dialect) ColumnType(t table.Type) string {
	switch t {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE PRECISION"
	case table.Bool:
		return "BOOLEAN"
	case table.Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (Dialect) ParseColumnType(dbType string) table.Type { return sqldb.ParseTypeOr(dbType) }

func (Dialect) ListTablesQuery(schema string) (string, []any) {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'", []any{schema}
}

func (Dialect) BindValue(v any) any { return v }
