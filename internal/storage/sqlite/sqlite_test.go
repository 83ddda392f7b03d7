package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"medallion/internal/storage"
	"medallion/internal/storage/sqldb"
	"medallion/internal/table"
)

func newTestSink(tb testing.TB) storage.Sink {
	tb.Helper()
	dsn := "file:" + filepath.Join(tb.TempDir(), "medallion.db")
	s, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn, BatchSize: 2})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

func sales() *table.Table {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return table.MustNew(
		[]table.Column{
			{Name: "id", Type: table.Int},
			{Name: "product", Type: table.String},
			{Name: "price", Type: table.Float},
			{Name: "paid", Type: table.Bool},
			{Name: "sold_at", Type: table.Timestamp},
		},
		[][]any{
			{1, 2, 3},
			{"widget", nil, "gadget"},
			{9.5, 3.0, nil},
			{true, false, nil},
			{ts, nil, ts.Add(time.Hour)},
		},
	)
}

// TestWriteReadRoundTrip verifies every logical type survives a write and
// read through SQLite, including NULLs.
func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	want := sales()

	if err := s.Write(ctx, "bronze_sales", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "bronze_sales")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got.Columns(), want.Columns()) {
		t.Fatalf("columns = %v, want %v", got.Columns(), want.Columns())
	}
	if !got.Equal(want) {
		t.Fatalf("rows = %v, want %v", got.Rows(), want.Rows())
	}
}

// TestWriteReplaces verifies a second write replaces the first, including a
// schema change.
func TestWriteReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	if err := s.Write(ctx, "t", sales()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	next := table.MustNew([]table.Column{{Name: "n", Type: table.Int}}, [][]any{{7}})
	if err := s.Write(ctx, "t", next); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "t")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.Equal(next) {
		t.Fatalf("got %v, want %v", got.Rows(), next.Rows())
	}
}

// TestListAndNotFound verifies List is sorted and unknown names report
// storage.ErrTableNotFound.
func TestListAndNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	for _, n := range []string{"dim_product", "bronze_sales"} {
		if err := s.Write(ctx, n, sales()); err != nil {
			t.Fatalf("Write %s: %v", n, err)
		}
	}
	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"bronze_sales", "dim_product"}) {
		t.Fatalf("List = %v", names)
	}
	if _, err := s.Read(ctx, "nope"); !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("want ErrTableNotFound, got %v", err)
	}
}

// TestEmptyTable verifies a table with columns but no rows round-trips.
func TestEmptyTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	empty := table.MustNew([]table.Column{{Name: "id", Type: table.Int}}, [][]any{{}})
	if err := s.Write(ctx, "empty", empty); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "empty")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.RowCount() != 0 || !reflect.DeepEqual(got.ColumnNames(), []string{"id"}) {
		t.Fatalf("got %d rows cols=%v", got.RowCount(), got.ColumnNames())
	}
}

// TestRegistrationUsesNewSinkHook verifies the "sqlite" backend registered in
// init() goes through the newSink hook.
func TestRegistrationUsesNewSinkHook(t *testing.T) {
	orig := newSink
	defer func() { newSink = orig }()

	var got storage.Config
	newSink = func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		got = cfg
		return storage.NewMemory(), nil
	}
	if _, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: "x.db"}); err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if got.DSN != "x.db" {
		t.Fatalf("hook cfg.DSN = %q, want x.db", got.DSN)
	}
}

// TestCreateTableSQL checks the rendered DDL for the SQLite dialect.
func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	got, err := sqldb.CreateTableSQL(Dialect{}, `"t"`, []table.Column{
		{Name: "id", Type: table.Int},
		{Name: `we"ird`, Type: table.Bool},
	})
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	want := "CREATE TABLE \"t\" (\n  \"id\" INTEGER,\n  \"we\"\"ird\" BOOLEAN\n)"
	if got != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}
