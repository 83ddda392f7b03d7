package silver

import (
	"fmt"
	"strings"

	"medallion/internal/config"
	"medallion/internal/table"
)

// Step kinds.
const (
	StepCleanColumnNames = "clean_column_names"
	StepTrim             = "trim"
	StepRename           = "rename"
	StepDropColumns      = "drop_columns"
	StepCastTypes        = "cast_types"
	StepStandardizeDates = "standardize_dates"
	StepDerive           = "derive"
	StepRequireColumns   = "require_columns"
)

// Step is one cleaning operation, selected by Kind and parameterized by
// Options:
//
//	clean_column_names  -
//	trim                columns (optional, default all string columns)
//	rename              mapping {old: new}
//	drop_columns        columns
//	cast_types          types {column: int|float|string|bool|timestamp}
//	standardize_dates   columns, formats (optional Go layouts)
//	derive              column, left, op (add|sub|mul|div), right
//	require_columns     columns, types (optional)
type Step struct {
	Kind    string
	Options config.Options
}

// StepsFromConfig converts configured steps.
func StepsFromConfig(in []config.Step) []Step {
	out := make([]Step, len(in))
	for i, s := range in {
		out[i] = Step{Kind: s.Kind, Options: s.Options}
	}
	return out
}

func (s Step) apply(t *table.Table, dateFormats []string) (*table.Table, error) {
	o := s.Options
	switch s.Kind {
	case StepCleanColumnNames:
		return CleanColumnNames(t)
	case StepTrim:
		return Trim(t, o.StringSlice("columns")...)
	case StepRename:
		return t.Rename(o.StringMap("mapping"))
	case StepDropColumns:
		cols := o.StringSlice("columns")
		if err := t.RequireColumns(cols...); err != nil {
			return nil, err
		}
		return t.Drop(cols...), nil
	case StepCastTypes:
		types, err := parseTypes(o.StringMap("types"))
		if err != nil {
			return nil, err
		}
		return CastTypes(t, types)
	case StepStandardizeDates:
		formats := o.StringSlice("formats")
		if len(formats) == 0 {
			formats = dateFormats
		}
		return StandardizeDates(t, o.StringSlice("columns"), formats)
	case StepDerive:
		op, err := table.ParseOp(o.String("op", ""))
		if err != nil {
			return nil, err
		}
		return t.Derive(o.String("column", ""), o.String("left", ""), op, o.String("right", ""))
	case StepRequireColumns:
		if err := t.RequireColumns(o.StringSlice("columns")...); err != nil {
			return nil, err
		}
		types, err := parseTypes(o.StringMap("types"))
		if err != nil {
			return nil, err
		}
		if err := t.CheckTypes(types); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStep, s.Kind)
}

func parseTypes(in map[string]string) (map[string]table.Type, error) {
	out := make(map[string]table.Type, len(in))
	for col, name := range in {
		typ, err := table.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		out[col] = typ
	}
	return out, nil
}

// Trim strips surrounding whitespace, including no-break spaces, from
// string values. Values left empty become null. With no columns named every
// String column is trimmed; a named non-string column is a SchemaError.
func Trim(t *table.Table, columns ...string) (*table.Table, error) {
	if err := t.RequireColumns(columns...); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		for _, c := range t.Columns() {
			if c.Type == table.String {
				columns = append(columns, c.Name)
			}
		}
	}
	out := t
	for _, name := range columns {
		typ, _ := out.ColumnType(name)
		if typ != table.String {
			return nil, &table.SchemaError{Reason: fmt.Sprintf("trim: column %q is %s, want string", name, typ)}
		}
		src, _ := out.Column(name)
		vals := make([]any, len(src))
		for i, v := range src {
			if v == nil {
				continue
			}
			if s := strings.TrimSpace(strings.ReplaceAll(v.(string), "\u00a0", " ")); s != "" {
				vals[i] = s
			}
		}
		var err error
		if out, err = out.WithColumn(name, table.String, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}
