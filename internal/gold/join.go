package gold

import (
	"fmt"
	"strings"

	"medallion/internal/table"
)

// Join types.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
	JoinOuter = "outer"
)

// Join merges left and right on the key columns in on, which both must
// have with the same types. The result holds the keys, then left's other
// columns, then right's; a name present on both sides gets _x and _y
// suffixes. Rows follow left order (matches in right order) except for
// right joins, which follow right order. Outer joins append right's
// unmatched rows last. Null keys never match.
func Join(left, right *table.Table, on []string, how string) (*table.Table, error) {
	how = strings.ToLower(strings.TrimSpace(how))
	if how == "" {
		how = JoinInner
	}
	switch how {
	case JoinInner, JoinLeft, JoinRight, JoinOuter:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownJoin, how)
	}
	if len(on) == 0 {
		return nil, &table.SchemaError{Reason: "join requires at least one key column"}
	}
	if err := left.RequireColumns(on...); err != nil {
		return nil, err
	}
	if err := right.RequireColumns(on...); err != nil {
		return nil, err
	}

	lk, rk := make([]int, len(on)), make([]int, len(on))
	isKey := make(map[string]bool, len(on))
	cols := make([]table.Column, 0, left.NumColumns()+right.NumColumns())
	for k, name := range on {
		lk[k], rk[k] = left.ColumnIndex(name), right.ColumnIndex(name)
		lt, rt := left.Columns()[lk[k]].Type, right.Columns()[rk[k]].Type
		if lt != rt {
			return nil, &table.SchemaError{Reason: fmt.Sprintf("join key %q is %s on the left and %s on the right", name, lt, rt)}
		}
		isKey[name] = true
		cols = append(cols, table.Column{Name: name, Type: lt})
	}

	// Non-key column indexes of each side, in output order.
	var lrest, rrest []int
	for j, c := range left.Columns() {
		if isKey[c.Name] {
			continue
		}
		name := c.Name
		if right.HasColumn(name) {
			name += "_x"
		}
		lrest = append(lrest, j)
		cols = append(cols, table.Column{Name: name, Type: c.Type})
	}
	for j, c := range right.Columns() {
		if isKey[c.Name] {
			continue
		}
		name := c.Name
		if left.HasColumn(name) {
			name += "_y"
		}
		rrest = append(rrest, j)
		cols = append(cols, table.Column{Name: name, Type: c.Type})
	}
	if err := checkUnique(cols); err != nil {
		return nil, err
	}

	// index maps encoded keys to row numbers and returns each row's key;
	// rows with a null key get "" and no entry.
	index := func(t *table.Table, keys []int) (map[string][]int, []string) {
		m := map[string][]int{}
		ks := make([]string, t.RowCount())
		var buf []byte
	rows:
		for i := 0; i < t.RowCount(); i++ {
			buf = buf[:0]
			for _, j := range keys {
				v := t.Value(i, j)
				if v == nil {
					continue rows
				}
				buf = append(buf, naturalKey(v)...)
			}
			ks[i] = string(buf)
			m[ks[i]] = append(m[ks[i]], i)
		}
		return m, ks
	}

	// Pairs of (left row, right row); -1 marks the missing side.
	var pairs [][2]int
	if how == JoinRight {
		lidx, _ := index(left, lk)
		_, rkeys := index(right, rk)
		for r := 0; r < right.RowCount(); r++ {
			matches := lidx[rkeys[r]]
			if len(matches) == 0 {
				pairs = append(pairs, [2]int{-1, r})
			}
			for _, l := range matches {
				pairs = append(pairs, [2]int{l, r})
			}
		}
	} else {
		_, lkeys := index(left, lk)
		ridx, _ := index(right, rk)
		matched := make([]bool, right.RowCount())
		for l := 0; l < left.RowCount(); l++ {
			matches := ridx[lkeys[l]]
			if len(matches) == 0 && how != JoinInner {
				pairs = append(pairs, [2]int{l, -1})
			}
			for _, r := range matches {
				matched[r] = true
				pairs = append(pairs, [2]int{l, r})
			}
		}
		if how == JoinOuter {
			for r, ok := range matched {
				if !ok {
					pairs = append(pairs, [2]int{-1, r})
				}
			}
		}
	}

	data := make([][]any, len(cols))
	for j := range data {
		data[j] = make([]any, len(pairs))
	}
	for p, lr := range pairs {
		l, r := lr[0], lr[1]
		for k := range on {
			if l >= 0 {
				data[k][p] = left.Value(l, lk[k])
			} else {
				data[k][p] = right.Value(r, rk[k])
			}
		}
		off := len(on)
		for k, j := range lrest {
			if l >= 0 {
				data[off+k][p] = left.Value(l, j)
			}
		}
		off += len(lrest)
		for k, j := range rrest {
			if r >= 0 {
				data[off+k][p] = right.Value(r, j)
			}
		}
	}
	return table.New(cols, data)
}
