package bronze

import (
	"context"
	"errors"
	"testing"
	"time"

	"medallion/internal/datasource"
	"medallion/internal/logger"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func orders() *table.Table {
	return table.MustNew(
		[]table.Column{{Name: "id", Type: table.Int}, {Name: "qty", Type: table.Int}},
		[][]any{{1, 1, 2}, {2, 2, nil}},
	)
}

func newIngestor(sink storage.Sink, clock clockwork.Clock, opts ...Option) *Ingestor {
	return New(sink, append([]Option{WithClock(clock), WithLogger(logger.Quiet())}, opts...)...)
}

func TestIngestAppendsProvenance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := storage.NewMemory()
	in := newIngestor(sink, clockwork.NewFakeClockAt(t0))
	src := orders()

	rec, err := in.Ingest(ctx, src, "orders", "pos")
	require.NoError(t, err)
	require.Equal(t, "orders", rec.TableName)
	require.Equal(t, "pos", rec.SourceSystem)
	require.Equal(t, t0, rec.IngestedAt)

	got := rec.Table
	require.Equal(t, 3, got.RowCount())
	require.Equal(t, []string{"id", "qty", ColumnSourceSystem, ColumnIngestedAt}, got.ColumnNames())
	for i := 0; i < got.RowCount(); i++ {
		require.Equal(t, "pos", got.Value(i, 2))
		require.Equal(t, t0, got.Value(i, 3))
	}

	// Source columns are untouched.
	orig, err := got.Select("id", "qty")
	require.NoError(t, err)
	require.True(t, orig.Equal(src))
	require.Equal(t, 2, src.NumColumns())

	stored, err := in.ReadTable(ctx, "orders")
	require.NoError(t, err)
	require.True(t, stored.Equal(got))
}

func TestIngestDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	in := newIngestor(storage.NewMemory(), clockwork.NewFakeClockAt(t0))

	rec, err := in.Ingest(ctx, orders(), "orders", "")
	require.NoError(t, err)
	require.Equal(t, DefaultSourceSystem, rec.SourceSystem)

	clash, err := orders().WithColumn(ColumnSourceSystem, table.String, []any{"a", "b", "c"})
	require.NoError(t, err)
	_, err = in.Ingest(ctx, clash, "clash", "pos")
	var dup *table.DuplicateColumnError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, ColumnSourceSystem, dup.Column)

	_, err = in.Ingest(ctx, orders(), "", "pos")
	require.Error(t, err)

	names, err := in.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orders"}, names)
}

func TestIngestEmptyTable(t *testing.T) {
	t.Parallel()

	in := newIngestor(storage.NewMemory(), clockwork.NewFakeClockAt(t0))
	rec, err := in.Ingest(context.Background(), &table.Table{}, "empty", "pos")
	require.NoError(t, err)
	require.Equal(t, 0, rec.Table.RowCount())
	require.Equal(t, MetadataColumns(), rec.Table.ColumnNames())
}

// steppingClock returns the queued instants from Now in order.
type steppingClock struct {
	clockwork.Clock
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func TestIngestTimestampsNeverDecrease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &steppingClock{
		Clock: clockwork.NewFakeClock(),
		times: []time.Time{t0, t0.Add(-time.Minute), t0.Add(time.Minute), t0.Add(-time.Hour)},
	}
	sink := storage.NewMemory()
	in := newIngestor(sink, clock)

	first, err := in.Ingest(ctx, orders(), "orders", "pos")
	require.NoError(t, err)
	second, err := in.Ingest(ctx, orders(), "orders", "pos")
	require.NoError(t, err)
	require.Equal(t, first.IngestedAt, second.IngestedAt)

	third, err := in.Ingest(ctx, orders(), "orders", "pos")
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Minute), third.IngestedAt)

	// Other table names keep their own sequence.
	other, err := in.Ingest(ctx, orders(), "returns", "pos")
	require.NoError(t, err)
	require.Equal(t, t0.Add(-time.Hour), other.IngestedAt)

	// Latest write wins in the sink.
	stored, err := in.ReadTable(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, third.IngestedAt, stored.Value(0, 3))
}

type fakeReader struct {
	t   *table.Table
	err error
	got datasource.Descriptor
}

func (f *fakeReader) Read(_ context.Context, d datasource.Descriptor) (*table.Table, error) {
	f.got = d
	return f.t, f.err
}

func TestIngestFrom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := storage.NewMemory()
	r := &fakeReader{t: orders()}
	in := newIngestor(sink, clockwork.NewFakeClockAt(t0), WithReader(r))

	d := datasource.Descriptor{Kind: datasource.KindFile, Path: "orders.csv"}
	rec, err := in.IngestFrom(ctx, d, "orders", "pos")
	require.NoError(t, err)
	require.Equal(t, d, r.got)
	require.Equal(t, 3, rec.Table.RowCount())

	r.err = &datasource.SourceUnavailableError{Source: "gone.csv", Err: errors.New("no such file")}
	_, err = in.IngestFrom(ctx, d, "gone", "pos")
	require.ErrorIs(t, err, datasource.ErrSourceUnavailable)
	_, err = in.ReadTable(ctx, "gone")
	require.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestIngestFromFile(t *testing.T) {
	t.Parallel()

	in := newIngestor(storage.NewMemory(), clockwork.NewFakeClockAt(t0))
	rec, err := in.IngestFrom(context.Background(),
		datasource.Descriptor{Kind: datasource.KindFile, Path: "../../testdata/products.csv"},
		"products", "inventory_system")
	require.NoError(t, err)
	require.Equal(t, 3, rec.Table.RowCount())
	require.Equal(t, "inventory_system", rec.Table.Value(0, rec.Table.ColumnIndex(ColumnSourceSystem)))
}
