package silver

import (
	"medallion/internal/table"

	"github.com/zeebo/xxh3"
)

// Deduplicate drops rows that repeat an earlier row across all columns and
// keeps first occurrences in order. Nulls compare equal to nulls. Rows are
// bucketed by an xxh3 hash and confirmed by value comparison, so hash
// collisions never drop distinct rows.
func Deduplicate(t *table.Table) *table.Table {
	n := t.RowCount()
	if n < 2 {
		return t
	}
	buckets := make(map[uint64][]int, n)
	keep := make([]int, 0, n)
	all := make([]int, t.NumColumns())
	for j := range all {
		all[j] = j
	}
	var buf []byte
	for i := 0; i < n; i++ {
		buf = t.RowKey(buf[:0], i, all)
		h := xxh3.Hash(buf)
		dup := false
		for _, k := range buckets[h] {
			if t.RowsEqual(i, t, k) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		buckets[h] = append(buckets[h], i)
		keep = append(keep, i)
	}
	if len(keep) == n {
		return t
	}
	return t.Take(keep)
}

// DropNulls drops rows holding a null in any of columns, or in any column
// when none are named.
func DropNulls(t *table.Table, columns ...string) (*table.Table, error) {
	if err := t.RequireColumns(columns...); err != nil {
		return nil, err
	}
	idx := make([]int, 0, len(columns))
	if len(columns) == 0 {
		for j := 0; j < t.NumColumns(); j++ {
			idx = append(idx, j)
		}
	} else {
		for _, c := range columns {
			idx = append(idx, t.ColumnIndex(c))
		}
	}
	return t.FilterRows(func(i int) bool {
		for _, j := range idx {
			if t.Value(i, j) == nil {
				return false
			}
		}
		return true
	}), nil
}
