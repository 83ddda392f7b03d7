package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Type is the logical type of a column. Every type is null-capable; a null
// is stored as a nil value.
type Type uint8

const (
	String Type = iota
	Int
	Float
	Bool
	Timestamp
)

func (t Type) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// Numeric reports whether t is Int or Float.
func (t Type) Numeric() bool { return t == Int || t == Float }

// ParseType maps a type name from configuration or a SQL catalog onto a Type.
// Unknown names are an error rather than silently falling back to String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "bigint", "int64", "smallint", "tinyint", "int32", "int16", "int8", "uint8", "uint16", "uint32", "uint64":
		return Int, nil
	case "float", "real", "double", "double precision", "float64", "float32", "numeric", "decimal":
		return Float, nil
	case "str", "string", "text", "varchar", "nvarchar", "char":
		return String, nil
	case "bool", "boolean", "bit":
		return Bool, nil
	case "date", "datetime", "datetime2", "timestamp", "timestamptz", "time":
		return Timestamp, nil
	}
	return String, fmt.Errorf("%w %q", ErrUnknownType, s)
}

// MarshalText lets Type appear as a plain word in YAML/JSON configs.
func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts any name understood by ParseType.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date and timestamp layouts recognized by default. Timestamps are tried
// first so that "2024-01-15T10:00:00Z" is not truncated to a date.
var (
	TimestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006/01/02 15:04:05",
		"02/01/2006 15:04:05",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
	}
	DateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"20060102",
		"02.01.2006",
		"01/02/2006",
		"02-Jan-2006",
		"2 Jan 2006",
		"Jan 2, 2006",
	}
)

// DefaultLayouts returns timestamp layouts followed by date layouts.
func DefaultLayouts() []string {
	out := make([]string, 0, len(TimestampLayouts)+len(DateLayouts))
	out = append(out, TimestampLayouts...)
	return append(out, DateLayouts...)
}

// ParseTimestamp tries each layout in order and returns the first match in
// UTC.
func ParseTimestamp(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalize widens Go values into the canonical representation used inside
// a Table: int64, float64, string, bool, time.Time or nil. Unsigned values
// above math.MaxInt64 are left as they are, so they fail type checks
// instead of wrapping.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return x
		}
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return x
		}
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case time.Time:
		return x.UTC()
	}
	return v
}

// conforms reports whether a normalized value is acceptable for t.
func conforms(v any, t Type) bool {
	if v == nil {
		return true
	}
	switch t {
	case Int:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Timestamp:
		_, ok := v.(time.Time)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

// TypeOf returns the Type matching a normalized value. Nil reports false.
func TypeOf(v any) (Type, bool) {
	switch normalize(v).(type) {
	case int64:
		return Int, true
	case float64:
		return Float, true
	case bool:
		return Bool, true
	case time.Time:
		return Timestamp, true
	case string:
		return String, true
	}
	return String, false
}

// Convert coerces v into the representation of t. Strings are parsed, numbers
// are widened or truncated only when lossless, and driver values ([]byte,
// int32, ...) are normalized first. Nil stays nil.
func Convert(v any, t Type) (any, error) {
	v = normalize(v)
	if v == nil {
		return nil, nil
	}
	if conforms(v, t) {
		return v, nil
	}
	switch t {
	case String:
		return FormatValue(v), nil
	case Int:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			// "3.0" is an integer written by a float-typed writer.
			if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
				return int64(f), nil
			}
			return nil, fmt.Errorf("%q is not an integer", x)
		}
	case Float:
		switch x := v.(type) {
		case int64:
			return float64(x), nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", x)
			}
			return f, nil
		}
	case Bool:
		switch x := v.(type) {
		case int64:
			switch x {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
			return nil, fmt.Errorf("%d is not a boolean", x)
		case string:
			s := strings.ToLower(strings.TrimSpace(x))
			switch s {
			case "":
				return nil, nil
			case "true", "t", "yes", "y", "1":
				return true, nil
			case "false", "f", "no", "n", "0":
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a boolean", x)
		}
	case Timestamp:
		switch x := v.(type) {
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			ts, ok := ParseTimestamp(x, DefaultLayouts())
			if !ok {
				return nil, fmt.Errorf("%q is not a recognized date", x)
			}
			return ts, nil
		case int64:
			return time.Unix(x, 0).UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// FormatValue renders a value as text. Nil renders as the empty string;
// timestamps use RFC3339Nano so the text round-trips through Convert.
func FormatValue(v any) string {
	switch x := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Compare orders two non-nil values of the same Type. Int and Float compare
// numerically with each other. It panics on incomparable kinds, which Table
// invariants rule out.
func Compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y)
		case float64:
			return cmpOrdered(float64(x), y)
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y)
		case int64:
			return cmpOrdered(x, float64(y))
		}
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	panic(fmt.Sprintf("table: cannot compare %T with %T", a, b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// equalValues is value equality with time.Time compared by instant.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
