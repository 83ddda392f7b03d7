package csvdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"medallion/internal/storage"
	"medallion/internal/table"
)

func newTestSink(tb testing.TB) (storage.Sink, string) {
	tb.Helper()
	dir := filepath.Join(tb.TempDir(), "raw")
	s, err := storage.New(context.Background(), storage.Config{Kind: "csv", Dir: dir})
	if err != nil {
		tb.Fatalf("open csv: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s, dir
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
			{"widget, large", nil, "gadget"},
			{9.5, 3.0, nil},
			{true, false, nil},
			{ts, nil, ts.Add(time.Hour)},
		},
	)
}

// TestWriteReadRoundTrip verifies types and NULLs survive through the
// sidecar, including a float column whose values all look like integers.
func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestSink(t)
	want := sales()
	if err := s.Write(ctx, "sales", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, f := range []string{"sales.csv", "sales.schema.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("expected %s: %v", f, err)
		}
	}
	got, err := s.Read(ctx, "sales")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got.Columns(), want.Columns()) {
		t.Fatalf("columns = %v, want %v", got.Columns(), want.Columns())
	}
	if !got.Equal(want) {
		t.Fatalf("rows = %v, want %v", got.Rows(), want.Rows())
	}

	whole := table.MustNew([]table.Column{{Name: "amount", Type: table.Float}}, [][]any{{1.0, 2.0}})
	if err := s.Write(ctx, "amounts", whole); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err = s.Read(ctx, "amounts")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ, _ := got.ColumnType("amount"); typ != table.Float {
		t.Fatalf("amount type = %s, want float", typ)
	}
}

// TestSingleColumnNullRoundTrip verifies that a NULL in a one-column table
// survives; a bare empty line would be skipped by the CSV reader.
func TestSingleColumnNullRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestSink(t)
	want := table.MustNew([]table.Column{{Name: "qty_avg", Type: table.Float}}, [][]any{{1.5, nil, 3.0}})
	if err := s.Write(ctx, "avg", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "avg")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.RowCount() != 3 {
		t.Fatalf("read back %d rows, want 3: %v", got.RowCount(), got.Rows())
	}
	if !got.Equal(want) {
		t.Fatalf("rows = %v, want %v", got.Rows(), want.Rows())
	}

	raw, err := os.ReadFile(filepath.Join(dir, "avg.csv"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(raw) != "qty_avg\n1.5\n\"\"\n3\n" {
		t.Fatalf("file = %q", raw)
	}
}

// TestReadWithoutSidecar verifies foreign CSV files are inferred.
func TestReadWithoutSidecar(t *testing.T) {
	t.Parallel()

	s, dir := newTestSink(t)
	if err := os.WriteFile(filepath.Join(dir, "ext.csv"), []byte("id,name\n1,a\n2,\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Read(context.Background(), "ext")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got.Row(1), []any{int64(2), nil}) {
		t.Fatalf("row 1 = %v", got.Row(1))
	}
}

// TestListAndNotFound verifies List ignores sidecars and temporaries and Read
// reports unknown tables.
func TestListAndNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, dir := newTestSink(t)
	for _, n := range []string{"b", "a"} {
		if err := s.Write(ctx, n, sales()); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, ".tmp-123"), nil, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644)

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("List = %v", names)
	}
	if _, err := s.Read(ctx, "zzz"); !errors.Is(err, storage.ErrTableNotFound) {
		t.Fatalf("Read(zzz) err = %v, want ErrTableNotFound", err)
	}
}

// TestWriteReplacesAndEmpty verifies last-write-wins and that empty tables
// round-trip.
func TestWriteReplacesAndEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestSink(t)
	if err := s.Write(ctx, "t", sales()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, "t", &table.Table{}); err != nil {
		t.Fatalf("Write empty: %v", err)
	}
	got, err := s.Read(ctx, "t")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.NumColumns() != 0 || got.RowCount() != 0 {
		t.Fatalf("got %d cols %d rows, want empty", got.NumColumns(), got.RowCount())
	}
}

// TestInvalidNames verifies names cannot escape the directory.
func TestInvalidNames(t *testing.T) {
	t.Parallel()

	s, _ := newTestSink(t)
	for _, n := range []string{"", "../x", "a/b", ".."} {
		if err := s.Write(context.Background(), n, sales()); err == nil {
			t.Fatalf("Write(%q) succeeded, want error", n)
		}
	}
}

// TestOpenRequiresDir verifies the factory rejects an empty dir.
func TestOpenRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := storage.New(context.Background(), storage.Config{Kind: "csv"}); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

// TestRegistrationUsesNewSinkHook verifies the factory goes through newSink.
func TestRegistrationUsesNewSinkHook(t *testing.T) {
	orig := newSink
	t.Cleanup(func() { newSink = orig })

	called := false
	newSink = func(context.Context, storage.Config) (storage.Sink, error) {
		called = true
		return storage.NewMemory(), nil
	}
	if _, err := storage.New(context.Background(), storage.Config{Kind: "csv"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if !called {
		t.Fatalf("newSink hook not called")
	}
}
