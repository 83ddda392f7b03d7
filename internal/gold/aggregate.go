package gold

import (
	"fmt"
	"strings"

	"medallion/internal/config"
	"medallion/internal/table"
)

// Aggregation applies Func to Column.
type Aggregation = config.Aggregation

// Aggregation functions. count counts non-null values; count_all counts
// rows, nulls included. mean is an alias of avg.
const (
	FuncSum      = "sum"
	FuncCount    = "count"
	FuncCountAll = "count_all"
	FuncAvg      = "avg"
	FuncMean     = "mean"
	FuncMin      = "min"
	FuncMax      = "max"
)

var knownFuncs = map[string]bool{
	FuncSum: true, FuncCount: true, FuncCountAll: true,
	FuncAvg: true, FuncMean: true, FuncMin: true, FuncMax: true,
}

// OutputColumn is the name of the column Aggregate produces for a.
func OutputColumn(a Aggregation) string {
	return a.Column + "_" + strings.ToLower(strings.TrimSpace(a.Func))
}

// outputType returns the result type of fn over a column of type in.
func outputType(fn string, in table.Type, col string) (table.Type, error) {
	switch fn {
	case FuncCount, FuncCountAll:
		return table.Int, nil
	case FuncMin, FuncMax:
		return in, nil
	case FuncSum, FuncAvg, FuncMean:
		if !in.Numeric() {
			return 0, &table.SchemaError{Reason: fmt.Sprintf("%s(%s): column is %s, want int or float", fn, col, in)}
		}
		if fn == FuncSum {
			return in, nil
		}
		return table.Float, nil
	}
	return 0, &UnknownAggregationError{Func: fn}
}

// accumulator folds one group's values for one aggregation.
type accumulator struct {
	fn    string
	rows  int64
	n     int64
	isInt bool
	isum  int64
	fsum  float64
	best  any
}

func (a *accumulator) add(v any) {
	a.rows++
	if v == nil {
		return
	}
	a.n++
	switch a.fn {
	case FuncSum, FuncAvg, FuncMean:
		switch x := v.(type) {
		case int64:
			a.isum += x
			a.fsum += float64(x)
		case float64:
			a.fsum += x
		}
	case FuncMin:
		if a.best == nil || table.Compare(v, a.best) < 0 {
			a.best = v
		}
	case FuncMax:
		if a.best == nil || table.Compare(v, a.best) > 0 {
			a.best = v
		}
	}
}

func (a *accumulator) result() any {
	switch a.fn {
	case FuncCount:
		return a.n
	case FuncCountAll:
		return a.rows
	case FuncSum:
		if a.isInt {
			return a.isum
		}
		return a.fsum
	case FuncAvg, FuncMean:
		if a.n == 0 {
			return nil
		}
		return a.fsum / float64(a.n)
	}
	return a.best
}

// Aggregate groups t by groupBy and computes aggs per group. Groups appear
// in first-seen order of their key; rows with a null in any group-by column
// belong to no group. Nulls are ignored by every function except count_all.
// An empty groupBy aggregates the whole table into one row.
func Aggregate(t *table.Table, groupBy []string, aggs []Aggregation) (*table.Table, error) {
	if err := t.RequireColumns(groupBy...); err != nil {
		return nil, err
	}
	keyIdx := make([]int, len(groupBy))
	cols := make([]table.Column, 0, len(groupBy)+len(aggs))
	for k, name := range groupBy {
		keyIdx[k] = t.ColumnIndex(name)
		cols = append(cols, t.Columns()[keyIdx[k]])
	}

	aggIdx := make([]int, len(aggs))
	fns := make([]string, len(aggs))
	for k, a := range aggs {
		fns[k] = strings.ToLower(strings.TrimSpace(a.Func))
		if !knownFuncs[fns[k]] {
			return nil, &UnknownAggregationError{Func: a.Func}
		}
		if !t.HasColumn(a.Column) {
			return nil, &table.ColumnNotFoundError{Column: a.Column, Available: t.ColumnNames()}
		}
		aggIdx[k] = t.ColumnIndex(a.Column)
		typ, err := outputType(fns[k], t.Columns()[aggIdx[k]].Type, a.Column)
		if err != nil {
			return nil, err
		}
		cols = append(cols, table.Column{Name: OutputColumn(a), Type: typ})
	}
	if err := checkUnique(cols); err != nil {
		return nil, err
	}

	type group struct {
		row  int
		accs []accumulator
	}
	newGroup := func(row int) *group {
		g := &group{row: row, accs: make([]accumulator, len(aggs))}
		for k := range aggs {
			g.accs[k] = accumulator{fn: fns[k], isInt: t.Columns()[aggIdx[k]].Type == table.Int}
		}
		return g
	}

	var (
		groups []*group
		byKey  = map[string]*group{}
		buf    []byte
	)
	if len(groupBy) == 0 {
		groups = append(groups, newGroup(-1))
	}
rows:
	for i := 0; i < t.RowCount(); i++ {
		var g *group
		if len(groupBy) == 0 {
			g = groups[0]
		} else {
			for _, j := range keyIdx {
				if t.Value(i, j) == nil {
					continue rows
				}
			}
			buf = t.RowKey(buf[:0], i, keyIdx)
			if g = byKey[string(buf)]; g == nil {
				g = newGroup(i)
				byKey[string(buf)] = g
				groups = append(groups, g)
			}
		}
		for k, j := range aggIdx {
			g.accs[k].add(t.Value(i, j))
		}
	}

	data := make([][]any, len(cols))
	for j := range data {
		data[j] = make([]any, len(groups))
	}
	for r, g := range groups {
		for k, j := range keyIdx {
			data[k][r] = t.Value(g.row, j)
		}
		for k := range aggs {
			data[len(keyIdx)+k][r] = g.accs[k].result()
		}
	}
	return table.New(cols, data)
}

// checkUnique reports the first repeated column name.
func checkUnique(cols []table.Column) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if seen[c.Name] {
			return &table.DuplicateColumnError{Column: c.Name}
		}
		seen[c.Name] = true
	}
	return nil
}
