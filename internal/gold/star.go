package gold

import (
	"fmt"

	"medallion/internal/table"
)

// DimensionTableName is the stored name of dimension name.
func DimensionTableName(name string) string { return "dim_" + name }

// FactTableName is the stored name of fact name.
func FactTableName(name string) string { return "fact_" + name }

// CreateDimension builds dimension name from t: one row per distinct
// non-null value of keyColumn, in first-seen order, carrying the first
// occurrence's attributes. Columns are <name>_key, keyColumn, then
// attributes. Surrogate keys come from reg, so rebuilding a dimension
// keeps the keys it handed out before. keyColumn listed among attributes
// is ignored.
func CreateDimension(reg *Registry, t *table.Table, name, keyColumn string, attributes []string) (*table.Table, error) {
	if name == "" {
		return nil, fmt.Errorf("dimension name must not be empty")
	}
	src := []string{keyColumn}
	for _, a := range attributes {
		if a != keyColumn {
			src = append(src, a)
		}
	}
	if err := t.RequireColumns(src...); err != nil {
		return nil, err
	}
	cols := []table.Column{{Name: name + "_key", Type: table.Int}}
	idx := make([]int, len(src))
	for k, c := range src {
		idx[k] = t.ColumnIndex(c)
		cols = append(cols, t.Columns()[idx[k]])
	}
	if err := checkUnique(cols); err != nil {
		return nil, err
	}

	var (
		first    []int
		naturals []any
		seen     = map[string]bool{}
	)
	for i := 0; i < t.RowCount(); i++ {
		v := t.Value(i, idx[0])
		if v == nil {
			continue
		}
		nk := naturalKey(v)
		if seen[nk] {
			continue
		}
		seen[nk] = true
		first = append(first, i)
		naturals = append(naturals, v)
	}

	d, err := reg.ensure(name, keyColumn)
	if err != nil {
		return nil, err
	}
	keys := reg.assignAll(d, naturals)

	data := make([][]any, len(cols))
	data[0] = make([]any, len(keys))
	for r, k := range keys {
		data[0][r] = k
	}
	for k, j := range idx {
		col := make([]any, len(first))
		for r, i := range first {
			col[r] = t.Value(i, j)
		}
		data[k+1] = col
	}
	return table.New(cols, data)
}

// CreateFact resolves each column in dimensionKeys against the dimension
// registered for it and emits <dim>_key columns followed by measures.
// Any unresolvable value fails the whole fact; there is no unknown member.
func CreateFact(reg *Registry, t *table.Table, dimensionKeys, measures []string) (*table.Table, error) {
	if err := t.RequireColumns(append(append([]string{}, dimensionKeys...), measures...)...); err != nil {
		return nil, err
	}
	n := t.RowCount()
	cols := make([]table.Column, 0, len(dimensionKeys)+len(measures))
	data := make([][]any, 0, cap(cols))
	for _, keyCol := range dimensionKeys {
		d, ok := reg.ForKey(keyCol)
		if !ok {
			return nil, &UnresolvedDimensionKeyError{Column: keyCol, Row: -1}
		}
		j := t.ColumnIndex(keyCol)
		col := make([]any, n)
		for i := 0; i < n; i++ {
			v := t.Value(i, j)
			k, err := reg.Resolve(d.Name, v)
			if err != nil {
				return nil, &UnresolvedDimensionKeyError{Dimension: d.Name, Column: keyCol, Row: i, Value: v}
			}
			col[i] = k
		}
		cols = append(cols, table.Column{Name: d.SurrogateColumn(), Type: table.Int})
		data = append(data, col)
	}
	for _, m := range measures {
		j := t.ColumnIndex(m)
		col, _ := t.Column(m)
		cols = append(cols, t.Columns()[j])
		data = append(data, col)
	}
	if err := checkUnique(cols); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return table.New(nil, nil)
	}
	return table.New(cols, data)
}
