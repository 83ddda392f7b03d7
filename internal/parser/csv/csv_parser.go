// Package csv parses delimited text into a typed table. Column types are
// either declared up front or inferred from the values once the whole input
// has been read.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"medallion/internal/config"
	"medallion/internal/table"
)

// Options configures the CSV parser behavior. All fields are optional; sensible
// defaults are applied when a field is zero.
type Options struct {
	// NoHeader indicates the first row is data; columns are named col_0..N.
	NoHeader bool

	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// Lenient skips rows with the wrong number of fields instead of failing.
	Lenient bool

	// HeaderMap renames source headers before typing.
	HeaderMap map[string]string

	// Types declares column types; other columns are inferred.
	Types map[string]table.Type
}

// FromConfigOptions builds Options from a generic config.Options map.
func FromConfigOptions(o config.Options) (Options, error) {
	opt := Options{
		NoHeader:  !o.Bool("header", true),
		Comma:     o.Rune("delimiter", ','),
		TrimSpace: o.Bool("trim_space", false),
		Lenient:   o.Bool("lenient", false),
		HeaderMap: o.StringMap("header_map"),
	}
	if types := o.StringMap("types"); len(types) > 0 {
		opt.Types = make(map[string]table.Type, len(types))
		for col, name := range types {
			t, err := table.ParseType(name)
			if err != nil {
				return Options{}, fmt.Errorf("csv types.%s: %w", col, err)
			}
			opt.Types[col] = t
		}
	}
	return opt, nil
}

// ErrFormat is wrapped by every error caused by malformed input.
var ErrFormat = errors.New("malformed csv")

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs, but Parser itself is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Parse reads every record from r and returns the typed table plus the
// number of rows skipped in lenient mode. Empty fields become NULL.
func (p *Parser) Parse(r io.Reader) (*table.Table, int, error) {
	cr := csv.NewReader(r)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1

	var (
		headers []string
		cols    [][]string
		skipped int
	)
	if !p.opt.NoHeader {
		h, err := cr.Read()
		if err == io.EOF {
			return &table.Table{}, 0, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: read header: %w", ErrFormat, err)
		}
		headers = p.headers(h)
		cols = make([][]string, len(headers))
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i := range headers {
				headers[i] = fmt.Sprintf("col_%d", i)
			}
			cols = make([][]string, len(headers))
		}
		if len(row) != len(headers) {
			if p.opt.Lenient {
				slog.Warn("csv: skipping row", "line", line, "expected", len(headers), "got", len(row))
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("%w: line %d: expected %d fields, got %d", ErrFormat, line, len(headers), len(row))
		}
		for i, v := range row {
			if p.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			cols[i] = append(cols[i], v)
		}
	}

	t, err := p.build(headers, cols)
	if err != nil {
		return nil, skipped, err
	}
	return t, skipped, nil
}

func (p *Parser) build(headers []string, raw [][]string) (*table.Table, error) {
	if len(p.opt.Types) == 0 {
		t, err := table.ParseColumns(headers, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		return t, nil
	}
	cols := make([]table.Column, len(headers))
	data := make([][]any, len(headers))
	for j, name := range headers {
		typ, declared := p.opt.Types[name]
		if !declared {
			typ = table.InferType(raw[j])
		}
		cols[j] = table.Column{Name: name, Type: typ}
		data[j] = make([]any, len(raw[j]))
		for i, s := range raw[j] {
			if s == "" {
				continue
			}
			v, err := table.Convert(s, typ)
			if err != nil {
				return nil, fmt.Errorf("%w: column %s row %d: %w", ErrFormat, name, i, err)
			}
			data[j][i] = v
		}
	}
	t, err := table.New(cols, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return t, nil
}

// headers strips a UTF-8 BOM from the first cell and applies HeaderMap.
func (p *Parser) headers(h []string) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if m, ok := p.opt.HeaderMap[c]; ok {
			c = m
		}
		res[i] = c
	}
	return res
}
