package silver

import (
	"fmt"
	"strings"
	"time"

	"medallion/internal/table"
)

// CastTypes converts the named columns to their target types. Either every
// value converts or nothing is returned: the first failure is a *CastError
// naming the column, row and value. Nulls stay null. Columns are processed
// in table order so the reported failure is deterministic.
func CastTypes(t *table.Table, types map[string]table.Type) (*table.Table, error) {
	for name := range types {
		if !t.HasColumn(name) {
			return nil, &table.ColumnNotFoundError{Column: name, Available: t.ColumnNames()}
		}
	}

	type cast struct {
		name   string
		typ    table.Type
		values []any
	}
	var casts []cast
	for _, c := range t.Columns() {
		target, ok := types[c.Name]
		if !ok {
			continue
		}
		src, _ := t.Column(c.Name)
		if c.Type == target {
			continue
		}
		out := make([]any, len(src))
		for i, v := range src {
			if v == nil {
				continue
			}
			cv, err := table.Convert(v, target)
			if err != nil {
				return nil, &CastError{Column: c.Name, Row: i, Value: v, Target: target, Err: err}
			}
			out[i] = cv
		}
		casts = append(casts, cast{name: c.Name, typ: target, values: out})
	}

	out := t
	for _, c := range casts {
		var err error
		if out, err = out.WithColumn(c.name, c.typ, c.values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StandardizeDates parses the named String columns into Timestamp columns
// using layouts (table.DefaultLayouts when empty). Dates without a time
// component become midnight UTC. Timestamp columns are normalized to UTC.
// Blank strings become null. An unparseable value is a *DateParseError and
// nothing is returned.
func StandardizeDates(t *table.Table, columns []string, layouts []string) (*table.Table, error) {
	if err := t.RequireColumns(columns...); err != nil {
		return nil, err
	}
	if len(layouts) == 0 {
		layouts = table.DefaultLayouts()
	}

	converted := make([][]any, len(columns))
	for k, name := range columns {
		typ, _ := t.ColumnType(name)
		src, _ := t.Column(name)
		out := make([]any, len(src))
		switch typ {
		case table.Timestamp:
			for i, v := range src {
				if v != nil {
					out[i] = v.(time.Time).UTC()
				}
			}
		case table.String:
			for i, v := range src {
				if v == nil {
					continue
				}
				s := strings.TrimSpace(v.(string))
				if s == "" {
					continue
				}
				ts, ok := table.ParseTimestamp(s, layouts)
				if !ok {
					return nil, &DateParseError{Column: name, Row: i, Value: s}
				}
				out[i] = ts
			}
		default:
			return nil, &table.SchemaError{Reason: fmt.Sprintf("standardize_dates: column %q is %s, want string or timestamp", name, typ)}
		}
		converted[k] = out
	}

	out := t
	for k, name := range columns {
		var err error
		if out, err = out.WithColumn(name, table.Timestamp, converted[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
