package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"medallion/internal/storage"
	"medallion/internal/table"
)

// Sink is a storage.Sink backed by a database/sql pool.
type Sink struct {
	db     *sql.DB
	d      Dialect
	schema string
	batch  int
}

var _ storage.Sink = (*Sink)(nil)

// Open opens and pings a pool for cfg.DSN using the dialect's driver.
func Open(ctx context.Context, d Dialect, cfg storage.Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d.Name())
	}
	db, err := sql.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name(), err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name(), err)
	}
	return NewSink(db, d, cfg), nil
}

// NewSink wraps an already opened pool.
func NewSink(db *sql.DB, d Dialect, cfg storage.Config) *Sink {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = storage.DefaultBatchSize
	}
	return &Sink{db: db, d: d, schema: cfg.Schema, batch: batch}
}

// DB exposes the pool for backend-specific tuning.
func (s *Sink) DB() *sql.DB { return s.db }

// Write drops and recreates the table and loads every row inside one
// transaction, so readers never observe a half-written table.
func (s *Sink) Write(ctx context.Context, name string, t *table.Table) error {
	if t.NumColumns() == 0 {
		return fmt.Errorf("%s: write %s: table has no columns", s.d.Name(), name)
	}
	fqn := FQN(s.d, s.schema, name)
	create, err := CreateTableSQL(s.d, fqn, t.Columns())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.d.Name(), err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := tx.ExecContext(ctx, DropTableSQL(fqn)); err != nil {
		rollback()
		return fmt.Errorf("%s: drop %s: %w", s.d.Name(), name, err)
	}
	if _, err := tx.ExecContext(ctx, create); err != nil {
		rollback()
		return fmt.Errorf("%s: create %s: %w", s.d.Name(), name, err)
	}

	copyFn := func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		bound := s.bindRows(rows)
		if bc, ok := s.d.(BulkCopier); ok {
			return bc.CopyIn(ctx, tx, fqn, columns, bound)
		}
		return s.insert(ctx, tx, fqn, columns, bound)
	}
	batch := rowsPerStatement(s.d, s.batch, t.NumColumns())
	if _, err := storage.WriteBatches(ctx, name, t, batch, copyFn); err != nil {
		rollback()
		return fmt.Errorf("%s: load %s: %w", s.d.Name(), name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.d.Name(), err)
	}
	return nil
}

func (s *Sink) bindRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		b := make([]any, len(r))
		for j, v := range r {
			if v != nil {
				b[j] = s.d.BindValue(v)
			}
		}
		out[i] = b
	}
	return out
}

func (s *Sink) insert(ctx context.Context, tx *sql.Tx, fqn string, columns []string, rows [][]any) (int64, error) {
	args := make([]any, 0, len(rows)*len(columns))
	for _, r := range rows {
		args = append(args, r...)
	}
	res, err := tx.ExecContext(ctx, InsertSQL(s.d, fqn, columns, len(rows)), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return int64(len(rows)), nil
	}
	return n, nil
}

// Read loads the whole table, mapping catalog types back to logical types.
func (s *Sink) Read(ctx context.Context, name string) (*table.Table, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := slices.BinarySearch(names, name); !ok {
		return nil, storage.NotFound(name)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+FQN(s.d, s.schema, name))
	if err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", s.d.Name(), name, err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%s: column types: %w", s.d.Name(), err)
	}
	cols := make([]table.Column, len(cts))
	for i, ct := range cts {
		cols[i] = table.Column{Name: ct.Name(), Type: s.d.ParseColumnType(ct.DatabaseTypeName())}
	}

	data := make([][]any, len(cols))
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", s.d.Name(), name, err)
		}
		for j, raw := range dest {
			v, err := table.Convert(raw, cols[j].Type)
			if err != nil {
				return nil, fmt.Errorf("%s: read %s.%s: %w", s.d.Name(), name, cols[j].Name, err)
			}
			data[j] = append(data[j], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows %s: %w", s.d.Name(), name, err)
	}
	for j := range data {
		if data[j] == nil {
			data[j] = []any{}
		}
	}
	return table.New(cols, data)
}

// List returns the tables visible in the configured schema.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	q, args := s.d.ListTablesQuery(s.schema)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: list tables: %w", s.d.Name(), err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: list tables: %w", s.d.Name(), err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// Close closes the pool.
func (s *Sink) Close() error { return s.db.Close() }
