package gold

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below.
var (
	ErrUnknownAggregation     = errors.New("unknown aggregation")
	ErrUnresolvedDimensionKey = errors.New("unresolved dimension key")
	ErrUnknownJoin            = errors.New("unknown join type")
)

// UnknownAggregationError reports an aggregation function name that is not
// supported.
type UnknownAggregationError struct {
	Func string
}

func (e *UnknownAggregationError) Error() string {
	return fmt.Sprintf("unknown aggregation %q (want sum, count, count_all, avg, mean, min, max)", e.Func)
}

func (e *UnknownAggregationError) Is(target error) bool { return target == ErrUnknownAggregation }

// UnresolvedDimensionKeyError reports a fact row whose natural key has no
// surrogate key. Dimension is empty when no dimension owns Column at all;
// Row is -1 when the lookup was not for a particular row.
type UnresolvedDimensionKeyError struct {
	Dimension string
	Column    string
	Row       int
	Value     any
}

func (e *UnresolvedDimensionKeyError) Error() string {
	if e.Dimension == "" {
		return fmt.Sprintf("no dimension registered for natural key column %q", e.Column)
	}
	if e.Row < 0 {
		return fmt.Sprintf("dimension %s: %s=%v has no surrogate key", e.Dimension, e.Column, e.Value)
	}
	return fmt.Sprintf("dimension %s: %s=%v (row %d) has no surrogate key", e.Dimension, e.Column, e.Value, e.Row)
}

func (e *UnresolvedDimensionKeyError) Is(target error) bool {
	return target == ErrUnresolvedDimensionKey
}
