package table

import (
	"strconv"
	"strings"
)

// InferType guesses the narrowest Type every non-empty sample satisfies, in
// the order int, bool, float, timestamp, string. An all-empty column is
// String.
func InferType(samples []string) Type {
	nonEmpty := make([]string, 0, len(samples))
	for _, s := range samples {
		if s = strings.TrimSpace(s); s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return String
	}
	switch {
	case allMatch(nonEmpty, isInt):
		return Int
	case allMatch(nonEmpty, isBool):
		return Bool
	case allMatch(nonEmpty, isFloat):
		return Float
	case allMatch(nonEmpty, isTimestamp):
		return Timestamp
	}
	return String
}

// ParseColumns converts raw text columns into a typed Table, inferring each
// column's type from its values. Empty strings become nulls.
func ParseColumns(names []string, raw [][]string) (*Table, error) {
	cols := make([]Column, len(names))
	data := make([][]any, len(names))
	for j, name := range names {
		typ := InferType(raw[j])
		cols[j] = Column{Name: name, Type: typ}
		vals := make([]any, len(raw[j]))
		for i, s := range raw[j] {
			if s == "" {
				continue
			}
			v, err := Convert(s, typ)
			if err != nil {
				return nil, &SchemaError{Reason: "column " + strconv.Quote(name) + ": " + err.Error()}
			}
			vals[i] = v
		}
		data[j] = vals
	}
	return New(cols, data)
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isBool deliberately excludes 1/0 so that integer flag columns stay Int.
func isBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "t", "f", "yes", "no", "y", "n":
		return true
	}
	return false
}

func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isTimestamp(s string) bool {
	_, ok := ParseTimestamp(s, DefaultLayouts())
	return ok
}
