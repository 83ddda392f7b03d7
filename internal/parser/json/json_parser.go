// Package json parses JSON objects into a typed table.
//
// It accepts newline-delimited objects:
//
//	{"id":1,"name":"a"}
//	{"id":2,"name":"b"}
//
// and, when AllowArrays is set, a single top-level array of objects. Columns
// appear in first-seen key order; keys missing from an object are NULL.
// Nested objects and arrays are kept as their JSON text.
package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"medallion/internal/config"
	"medallion/internal/table"
)

// Options configures the parser.
type Options struct {
	// AllowArrays accepts a top-level JSON array of objects.
	AllowArrays bool

	// Types declares column types; other columns are inferred.
	Types map[string]table.Type
}

// FromConfigOptions constructs JSON Options from a generic config.Options
// map (the same one used by the csv parser).
func FromConfigOptions(o config.Options) (Options, error) {
	opt := Options{AllowArrays: o.Bool("allow_arrays", false)}
	if types := o.StringMap("types"); len(types) > 0 {
		opt.Types = make(map[string]table.Type, len(types))
		for col, name := range types {
			t, err := table.ParseType(name)
			if err != nil {
				return Options{}, fmt.Errorf("json types.%s: %w", col, err)
			}
			opt.Types[col] = t
		}
	}
	return opt, nil
}

// ErrFormat is wrapped by every error caused by malformed input.
var ErrFormat = errors.New("malformed json")

// Parser decodes JSON input according to Options.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// Parse decodes every object in r. The skipped count is always zero; JSON
// input is either well formed or rejected.
func (p *Parser) Parse(r io.Reader) (*table.Table, int, error) {
	objs, err := p.decodeAll(r)
	if err != nil {
		return nil, 0, err
	}

	var names []string
	seen := map[string]bool{}
	for _, o := range objs {
		for _, k := range o.keys {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}

	cols := make([]table.Column, len(names))
	data := make([][]any, len(names))
	for j, name := range names {
		raw := make([]any, len(objs))
		for i, o := range objs {
			raw[i] = scalar(o.vals[name])
		}
		typ, ok := p.opt.Types[name]
		if !ok {
			typ = inferType(raw)
		}
		vals := make([]any, len(raw))
		for i, v := range raw {
			c, err := table.Convert(v, typ)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: column %s row %d: %w", ErrFormat, name, i, err)
			}
			vals[i] = c
		}
		cols[j] = table.Column{Name: name, Type: typ}
		data[j] = vals
	}
	t, err := table.New(cols, data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return t, 0, nil
}

type object struct {
	keys []string
	vals map[string]any
}

func (p *Parser) decodeAll(r io.Reader) ([]object, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var out []object
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("%w: decode: %w", ErrFormat, err)
		}
		if len(raw) > 0 && raw[0] == '[' {
			if !p.opt.AllowArrays {
				return nil, fmt.Errorf("%w: top-level array encountered but allow_arrays=false", ErrFormat)
			}
			var elems []json.RawMessage
			if err := json.Unmarshal(raw, &elems); err != nil {
				return nil, fmt.Errorf("%w: decode array: %w", ErrFormat, err)
			}
			for i, e := range elems {
				o, err := decodeObject(e)
				if err != nil {
					return nil, fmt.Errorf("%w: element %d: %w", ErrFormat, i, err)
				}
				out = append(out, o)
			}
			continue
		}
		o, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrFormat, len(out), err)
		}
		out = append(out, o)
	}
}

// decodeObject keeps key order, which encoding/json maps lose.
func decodeObject(raw json.RawMessage) (object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return object{}, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return object{}, fmt.Errorf("expected object, got %s", string(raw))
	}
	o := object{vals: map[string]any{}}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return object{}, err
		}
		key := kt.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return object{}, err
		}
		if _, dup := o.vals[key]; !dup {
			o.keys = append(o.keys, key)
		}
		o.vals[key] = v
	}
	return o, nil
}

// scalar maps decoded JSON values onto table values. Numbers become int64
// when integral, nested values are re-encoded as JSON text.
func scalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// inferType picks the narrowest type holding every non-null value. Mixed
// int/float widens to Float; any other mix becomes String. String columns
// whose values all parse as timestamps are typed Timestamp.
func inferType(vals []any) table.Type {
	var (
		typ   table.Type
		found bool
	)
	for _, v := range vals {
		if v == nil {
			continue
		}
		vt, _ := table.TypeOf(v)
		switch {
		case !found:
			typ, found = vt, true
		case typ == vt:
		case typ.Numeric() && vt.Numeric():
			typ = table.Float
		default:
			return table.String
		}
	}
	if !found {
		return table.String
	}
	if typ == table.String {
		strs := make([]string, 0, len(vals))
		for _, v := range vals {
			if s, ok := v.(string); ok {
				strs = append(strs, s)
			}
		}
		if table.InferType(strs) == table.Timestamp {
			return table.Timestamp
		}
	}
	return typ
}
