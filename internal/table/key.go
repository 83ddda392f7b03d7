package table

import (
	"encoding/binary"
	"math"
	"time"
)

// AppendKey appends a binary encoding of v to buf such that two values
// encode identically iff they are equal as table values: timestamps by
// instant, -0 as 0, nil as its own tag. Values of different types never
// collide.
func AppendKey(buf []byte, v any) []byte {
	switch x := normalize(v).(type) {
	case nil:
		return append(buf, 0)
	case int64:
		buf = append(buf, 1)
		return binary.LittleEndian.AppendUint64(buf, uint64(x))
	case float64:
		if x == 0 {
			x = 0
		}
		buf = append(buf, 2)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
	case string:
		buf = append(buf, 3)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(x)))
		return append(buf, x...)
	case bool:
		if x {
			return append(buf, 4, 1)
		}
		return append(buf, 4, 0)
	case time.Time:
		buf = append(buf, 5)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(x.Unix()))
		return binary.LittleEndian.AppendUint32(buf, uint32(x.Nanosecond()))
	}
	return append(buf, 0xff)
}

// RowKey encodes the values of row i in the given columns.
func (t *Table) RowKey(buf []byte, i int, cols []int) []byte {
	for _, j := range cols {
		buf = AppendKey(buf, t.data[j][i])
	}
	return buf
}
