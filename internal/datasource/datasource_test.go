package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"medallion/internal/config"
	"medallion/internal/datasource/httpds"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestReadFileCSV(t *testing.T) {
	t.Parallel()

	r := &Reader{}
	got, err := r.Read(context.Background(), Descriptor{Kind: KindFile, Path: "../../testdata/sales.csv"})
	require.NoError(t, err)
	require.Equal(t, 9, got.RowCount())
	require.Equal(t, []string{"Transaction ID", "Product ID", "Quantity", "Unit Price", "Date", "Customer ID"}, got.ColumnNames())
	typ, err := got.ColumnType("Quantity")
	require.NoError(t, err)
	require.Equal(t, table.Int, typ)
}

func TestReadFileFormats(t *testing.T) {
	t.Parallel()

	tsv := writeFile(t, "a.tsv", "id\tname\n1\tx\n2\ty\n")
	got, err := (&Reader{}).Read(context.Background(), Descriptor{Path: tsv})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, got.ColumnNames())
	require.Equal(t, 2, got.RowCount())

	arr := writeFile(t, "a.json", `[{"id":1},{"id":2,"note":"n"}]`)
	got, err = (&Reader{}).Read(context.Background(), Descriptor{Path: arr})
	require.NoError(t, err)
	require.Equal(t, []any{int64(2), "n"}, got.Row(1))

	explicit := writeFile(t, "data.txt", "{\"id\":7}\n")
	got, err = (&Reader{}).Read(context.Background(), Descriptor{Path: explicit, Format: "json"})
	require.NoError(t, err)
	require.Equal(t, []any{int64(7)}, got.Row(0))

	_, err = (&Reader{}).Read(context.Background(), Descriptor{Path: explicit, Format: "parquet"})
	require.ErrorContains(t, err, "unsupported format")
}

func TestReadFileErrors(t *testing.T) {
	t.Parallel()

	_, err := (&Reader{}).Read(context.Background(), Descriptor{Path: filepath.Join(t.TempDir(), "missing.csv")})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, os.ErrNotExist)
	var ue *SourceUnavailableError
	require.ErrorAs(t, err, &ue)

	ragged := writeFile(t, "bad.csv", "a,b\n1,2\n3\n")
	_, err = (&Reader{}).Read(context.Background(), Descriptor{Path: ragged})
	require.ErrorIs(t, err, ErrSourceFormat)
	require.NotErrorIs(t, err, ErrSourceUnavailable)

	badJSON := writeFile(t, "bad.json", `{"a":`)
	_, err = (&Reader{}).Read(context.Background(), Descriptor{Path: badJSON})
	var fe *SourceFormatError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, badJSON, fe.Source)

	lenient := writeFile(t, "lenient.csv", "a,b\n1,2\n3\n")
	got, err := (&Reader{}).Read(context.Background(), Descriptor{Path: lenient, Options: config.Options{"lenient": true}})
	require.NoError(t, err)
	require.Equal(t, 1, got.RowCount())

	_, err = (&Reader{}).Read(context.Background(), Descriptor{Path: lenient, Options: config.Options{"types": map[string]any{"a": "uuid"}}})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSourceUnavailable)
}

func TestReadHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products.csv" {
			_, _ = w.Write([]byte("Product ID,Product Name\n101,Widget\n"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	r := &Reader{HTTP: httpds.NewClient(httpds.Config{})}
	got, err := r.Read(context.Background(), Descriptor{Kind: KindHTTP, URL: srv.URL + "/products.csv"})
	require.NoError(t, err)
	require.Equal(t, []any{int64(101), "Widget"}, got.Row(0))

	_, err = r.Read(context.Background(), Descriptor{Kind: KindHTTP, URL: srv.URL + "/missing.csv"})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	var se *httpds.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Status)
}

func TestReadSQL(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemory()
	want := table.MustNew([]table.Column{{Name: "id", Type: table.Int}}, [][]any{{1, 2}})
	require.NoError(t, mem.Write(context.Background(), "orders", want))

	var opened storage.Config
	r := &Reader{OpenSink: func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		opened = cfg
		return mem, nil
	}}
	d := Descriptor{Kind: KindSQL, Table: "orders", Storage: storage.Config{Kind: "postgres", DSN: "postgres://x"}}
	got, err := r.Read(context.Background(), d)
	require.NoError(t, err)
	require.True(t, want.Equal(got))
	require.Equal(t, "postgres", opened.Kind)

	d.Table = "missing"
	_, err = r.Read(context.Background(), d)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, storage.ErrTableNotFound)

	failing := &Reader{OpenSink: func(context.Context, storage.Config) (storage.Sink, error) {
		return nil, errors.New("dial tcp: refused")
	}}
	_, err = failing.Read(context.Background(), Descriptor{Kind: KindSQL, Table: "orders"})
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestReadUnsupportedKind(t *testing.T) {
	t.Parallel()

	_, err := (&Reader{}).Read(context.Background(), Descriptor{Kind: "ftp"})
	require.ErrorContains(t, err, "unsupported source kind")
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	d := FromConfig(config.Source{Name: "s", Kind: "http", URL: "https://h/x.json", Format: "json"})
	require.Equal(t, Descriptor{Kind: "http", URL: "https://h/x.json", Format: "json"}, d)
	require.Equal(t, "https://h/x.json", d.String())
	require.Equal(t, "mysql:t", Descriptor{Kind: KindSQL, Table: "t", Storage: storage.Config{Kind: "mysql"}}.String())
}
