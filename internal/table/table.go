// Package table is the in-memory tabular dataset shared by every pipeline
// layer: an ordered set of named, typed columns holding the same number of
// values each.
//
// Tables are immutable once constructed. Every operation returns a new Table
// and never hands out the backing slices, so a Bronze table can be passed to
// Silver and Gold steps without any of them observing each other's changes.
package table

import (
	"fmt"
	"slices"
)

// Column names a column and declares its logical type.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Table is a column-major, immutable dataset. The zero value is an empty
// table with no columns and no rows.
type Table struct {
	cols  []Column
	data  [][]any
	rows  int
	index map[string]int
}

// New builds a Table from column definitions and column-major data. Values
// are normalized (int -> int64, float32 -> float64, []byte -> string, ...)
// and copied, then the result is validated.
func New(cols []Column, data [][]any) (*Table, error) {
	nd := normalizeData(data)
	if err := Validate(cols, nd); err != nil {
		return nil, err
	}
	return build(cols, nd), nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew(cols []Column, data [][]any) *Table {
	t, err := New(cols, data)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a Table from row-major values.
func FromRows(cols []Column, rows [][]any) (*Table, error) {
	data := make([][]any, len(cols))
	for j := range cols {
		data[j] = make([]any, len(rows))
	}
	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, &SchemaError{Reason: fmt.Sprintf("row %d has %d values, want %d", i, len(r), len(cols))}
		}
		for j, v := range r {
			data[j][i] = v
		}
	}
	return New(cols, data)
}

// Validate checks the structural invariants of a would-be table: one value
// slice per column, every slice the same length, unique names, and every
// non-nil value matching its column type.
func Validate(cols []Column, data [][]any) error {
	if len(cols) != len(data) {
		return &SchemaError{Reason: fmt.Sprintf("%d column definitions for %d value slices", len(cols), len(data))}
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if c.Name == "" {
			return &SchemaError{Reason: "empty column name"}
		}
		if _, dup := seen[c.Name]; dup {
			return &SchemaError{Reason: fmt.Sprintf("duplicate column name %q", c.Name)}
		}
		seen[c.Name] = struct{}{}
	}
	if len(data) == 0 {
		return nil
	}
	rows := len(data[0])
	for j, c := range cols {
		if len(data[j]) != rows {
			return &SchemaError{Reason: fmt.Sprintf("column %q has %d values, want %d", c.Name, len(data[j]), rows)}
		}
		for i, v := range data[j] {
			if !conforms(v, c.Type) {
				return &SchemaError{Reason: fmt.Sprintf("column %q row %d: %T is not %s", c.Name, i, v, c.Type)}
			}
		}
	}
	return nil
}

// Validate re-checks the invariants of an existing table.
func (t *Table) Validate() error {
	if t == nil {
		return nil
	}
	if err := Validate(t.cols, t.data); err != nil {
		return err
	}
	for j, c := range t.cols {
		if len(t.data[j]) != t.rows {
			return &SchemaError{Reason: fmt.Sprintf("column %q has %d values, want %d", c.Name, len(t.data[j]), t.rows)}
		}
	}
	return nil
}

func normalizeData(data [][]any) [][]any {
	out := make([][]any, len(data))
	for j, col := range data {
		out[j] = make([]any, len(col))
		for i, v := range col {
			out[j][i] = normalize(v)
		}
	}
	return out
}

// build assumes data is already owned by the new table and valid.
func build(cols []Column, data [][]any) *Table {
	t := &Table{
		cols:  slices.Clone(cols),
		data:  data,
		index: make(map[string]int, len(cols)),
	}
	if len(data) > 0 {
		t.rows = len(data[0])
	}
	for j, c := range cols {
		t.index[c.Name] = j
	}
	return t
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return t.rows
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.cols)
}

// Columns returns a copy of the column definitions in order.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	return slices.Clone(t.cols)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.cols))
	for j, c := range t.cols {
		names[j] = c.Name
	}
	return names
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	if j, ok := t.index[name]; ok {
		return j
	}
	return -1
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool { return t.ColumnIndex(name) >= 0 }

// ColumnType returns the declared type of name.
func (t *Table) ColumnType(name string) (Type, error) {
	j := t.ColumnIndex(name)
	if j < 0 {
		return String, t.notFound(name)
	}
	return t.cols[j].Type, nil
}

// Column returns a copy of the values of name.
func (t *Table) Column(name string) ([]any, error) {
	j := t.ColumnIndex(name)
	if j < 0 {
		return nil, t.notFound(name)
	}
	return slices.Clone(t.data[j]), nil
}

// Value returns the value at row i of column j. It panics on out-of-range
// indices like a slice access would.
func (t *Table) Value(i, j int) any { return t.data[j][i] }

// Row returns a copy of row i in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.cols))
	for j := range t.cols {
		out[j] = t.data[j][i]
	}
	return out
}

// Rows returns every row in row-major form. It copies.
func (t *Table) Rows() [][]any {
	out := make([][]any, t.RowCount())
	for i := range out {
		out[i] = t.Row(i)
	}
	return out
}

func (t *Table) notFound(name string) error {
	return &ColumnNotFoundError{Column: name, Available: t.ColumnNames()}
}

// RequireColumns fails with ColumnNotFoundError for the first missing name.
func (t *Table) RequireColumns(names ...string) error {
	for _, n := range names {
		if !t.HasColumn(n) {
			return t.notFound(n)
		}
	}
	return nil
}

// CheckTypes verifies declared column types. Int and Float are treated as
// interchangeable when want is numeric, mirroring how loose numeric schemas
// are usually written.
func (t *Table) CheckTypes(want map[string]Type) error {
	for _, name := range sortedKeys(want) {
		got, err := t.ColumnType(name)
		if err != nil {
			return err
		}
		w := want[name]
		if got == w || (got.Numeric() && w.Numeric()) {
			continue
		}
		return &SchemaError{Reason: fmt.Sprintf("column %q has type %s, expected %s", name, got, w)}
	}
	return nil
}

// Select returns a table with only the named columns, in the order given.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	data := make([][]any, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		j := t.ColumnIndex(n)
		if j < 0 {
			return nil, t.notFound(n)
		}
		if _, dup := seen[n]; dup {
			return nil, &DuplicateColumnError{Column: n}
		}
		seen[n] = struct{}{}
		cols = append(cols, t.cols[j])
		data = append(data, slices.Clone(t.data[j]))
	}
	out := build(cols, data)
	out.rows = t.RowCount()
	return out, nil
}

// Drop returns a table without the named columns. Names the table does not
// have are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]struct{}, len(names))
	for _, n := range names {
		skip[n] = struct{}{}
	}
	var (
		cols []Column
		data [][]any
	)
	for j, c := range t.cols {
		if _, ok := skip[c.Name]; ok {
			continue
		}
		cols = append(cols, c)
		data = append(data, slices.Clone(t.data[j]))
	}
	out := build(cols, data)
	out.rows = t.RowCount()
	return out
}

// WithColumn returns a table with the column added at the end, or replaced
// in place when a column of that name already exists. values must have one
// entry per row; a table without columns adopts len(values) as its row count.
func (t *Table) WithColumn(name string, typ Type, values []any) (*Table, error) {
	if name == "" {
		return nil, &SchemaError{Reason: "empty column name"}
	}
	if t.NumColumns() > 0 && len(values) != t.RowCount() {
		return nil, &RowCountMismatchError{Column: name, Got: len(values), Want: t.RowCount()}
	}
	col := make([]any, len(values))
	for i, v := range values {
		v = normalize(v)
		if !conforms(v, typ) {
			return nil, &SchemaError{Reason: fmt.Sprintf("column %q row %d: %T is not %s", name, i, v, typ)}
		}
		col[i] = v
	}

	cols := t.Columns()
	data := make([][]any, len(cols))
	for j := range cols {
		data[j] = slices.Clone(t.data[j])
	}
	if j := t.ColumnIndex(name); j >= 0 {
		cols[j].Type = typ
		data[j] = col
	} else {
		cols = append(cols, Column{Name: name, Type: typ})
		data = append(data, col)
	}
	return build(cols, data), nil
}

// Rename returns a table with columns renamed per mapping (old -> new).
// Renaming onto an existing name fails with DuplicateColumnError.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	for _, old := range sortedKeys(mapping) {
		if !t.HasColumn(old) {
			return nil, t.notFound(old)
		}
	}
	cols := t.Columns()
	sources := make(map[string][]string, len(cols))
	for j, c := range cols {
		if n, ok := mapping[c.Name]; ok && n != "" {
			cols[j].Name = n
		}
		sources[cols[j].Name] = append(sources[cols[j].Name], c.Name)
	}
	for _, c := range cols {
		if from := sources[c.Name]; len(from) > 1 {
			return nil, &DuplicateColumnError{Column: c.Name, From: from}
		}
	}
	data := make([][]any, len(cols))
	for j := range cols {
		data[j] = slices.Clone(t.data[j])
	}
	out := build(cols, data)
	out.rows = t.RowCount()
	return out, nil
}

// Take returns the rows at the given indices, in that order. Indices may
// repeat.
func (t *Table) Take(indices []int) *Table {
	data := make([][]any, len(t.cols))
	for j := range t.cols {
		col := make([]any, len(indices))
		for k, i := range indices {
			col[k] = t.data[j][i]
		}
		data[j] = col
	}
	out := build(t.cols, data)
	out.rows = len(indices)
	return out
}

// FilterRows keeps the rows for which keep returns true, preserving order.
func (t *Table) FilterRows(keep func(row int) bool) *Table {
	idx := make([]int, 0, t.RowCount())
	for i := 0; i < t.RowCount(); i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return t.Take(idx)
}

// Equal reports whether both tables have the same columns (names and types,
// in order) and the same values row by row.
func (t *Table) Equal(o *Table) bool {
	if t.RowCount() != o.RowCount() || t.NumColumns() != o.NumColumns() {
		return false
	}
	for j := range t.cols {
		if t.cols[j] != o.cols[j] {
			return false
		}
		for i := 0; i < t.rows; i++ {
			if !equalValues(t.data[j][i], o.data[j][i]) {
				return false
			}
		}
	}
	return true
}

// RowsEqual reports whether rows i of t and k of o hold equal values. Both
// tables must share a column layout.
func (t *Table) RowsEqual(i int, o *Table, k int) bool {
	for j := range t.cols {
		if !equalValues(t.data[j][i], o.data[j][k]) {
			return false
		}
	}
	return true
}

// Records returns the rows as maps keyed by column name. Handy for JSON.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, t.RowCount())
	for i := range out {
		rec := make(map[string]any, len(t.cols))
		for j, c := range t.cols {
			rec[c.Name] = t.data[j][i]
		}
		out[i] = rec
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
