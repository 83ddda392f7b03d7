package csv_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pcsv "medallion/internal/parser/csv"
	"medallion/internal/config"
	"medallion/internal/table"
)

func TestParseSample(t *testing.T) {
	path := filepath.Join("..", "..", "..", "testdata", "sales.csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	tbl, skipped, err := pcsv.NewParser(pcsv.Options{}).Parse(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped=%d want 0", skipped)
	}
	if got, want := tbl.ColumnNames()[0], "Transaction ID"; got != want {
		t.Fatalf("first header=%q want %q", got, want)
	}
	if typ, _ := tbl.ColumnType("Quantity"); typ != table.Int {
		t.Fatalf("Quantity type=%s want int", typ)
	}
}

func TestParseInfersAndNulls(t *testing.T) {
	t.Parallel()

	in := "\uFEFFid,price,note,day\n1,2.5,,2024-01-15\n2,3,x,2024-01-16\n"
	tbl, _, err := pcsv.NewParser(pcsv.Options{}).Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []table.Column{
		{Name: "id", Type: table.Int},
		{Name: "price", Type: table.Float},
		{Name: "note", Type: table.String},
		{Name: "day", Type: table.Timestamp},
	}
	for i, c := range tbl.Columns() {
		if c != want[i] {
			t.Fatalf("column %d = %+v want %+v", i, c, want[i])
		}
	}
	if v := tbl.Value(0, 2); v != nil {
		t.Fatalf("empty field = %v want nil", v)
	}
	if v := tbl.Value(1, 3); !v.(time.Time).Equal(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("day = %v", v)
	}
}

func TestParseDeclaredTypesAndHeaderMap(t *testing.T) {
	t.Parallel()

	in := "Code;Amount\n007;10\n"
	p := pcsv.NewParser(pcsv.Options{
		Comma:     ';',
		HeaderMap: map[string]string{"Code": "code"},
		Types:     map[string]table.Type{"code": table.String},
	})
	tbl, _, err := p.Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v := tbl.Value(0, 0); v != "007" {
		t.Fatalf("code = %v want 007", v)
	}
	if v := tbl.Value(0, 1); v != int64(10) {
		t.Fatalf("Amount = %v want 10", v)
	}
}

func TestParseRaggedRows(t *testing.T) {
	t.Parallel()

	in := "a,b\n1,2\n3\n4,5\n"
	_, _, err := pcsv.NewParser(pcsv.Options{}).Parse(strings.NewReader(in))
	if !errors.Is(err, pcsv.ErrFormat) {
		t.Fatalf("strict parse err = %v, want ErrFormat", err)
	}

	tbl, skipped, err := pcsv.NewParser(pcsv.Options{Lenient: true}).Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("lenient parse: %v", err)
	}
	if skipped != 1 || tbl.RowCount() != 2 {
		t.Fatalf("skipped=%d rows=%d, want 1 and 2", skipped, tbl.RowCount())
	}
}

func TestParseNoHeaderAndEmpty(t *testing.T) {
	t.Parallel()

	tbl, _, err := pcsv.NewParser(pcsv.Options{NoHeader: true}).Parse(strings.NewReader("x,1\ny,2\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := strings.Join(tbl.ColumnNames(), ","); got != "col_0,col_1" {
		t.Fatalf("names = %s", got)
	}

	empty, _, err := pcsv.NewParser(pcsv.Options{}).Parse(strings.NewReader(""))
	if err != nil || empty.NumColumns() != 0 {
		t.Fatalf("empty input: cols=%d err=%v", empty.NumColumns(), err)
	}
}

func TestFromConfigOptions(t *testing.T) {
	t.Parallel()

	opt, err := pcsv.FromConfigOptions(config.Options{
		"delimiter": "|",
		"header":    false,
		"types":     map[string]any{"id": "int"},
	})
	if err != nil {
		t.Fatalf("FromConfigOptions: %v", err)
	}
	if opt.Comma != '|' || !opt.NoHeader || opt.Types["id"] != table.Int {
		t.Fatalf("opt = %+v", opt)
	}

	if _, err := pcsv.FromConfigOptions(config.Options{"types": map[string]any{"id": "uuid"}}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
