package silver

import (
	"errors"
	"fmt"

	"medallion/internal/table"
)

// Sentinels matched by the typed errors below.
var (
	ErrCast        = errors.New("cast failed")
	ErrDateParse   = errors.New("date parse failed")
	ErrUnknownStep = errors.New("unknown step")
)

// CastError reports the first value that could not be converted.
type CastError struct {
	Column string
	Row    int
	Value  any
	Target table.Type
	Err    error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cast %s row %d: %v to %s: %v", e.Column, e.Row, e.Value, e.Target, e.Err)
}

func (e *CastError) Unwrap() error { return e.Err }

func (e *CastError) Is(target error) bool { return target == ErrCast }

// DateParseError reports a value no accepted layout matched.
type DateParseError struct {
	Column string
	Row    int
	Value  string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("standardize %s row %d: %q matches no date format", e.Column, e.Row, e.Value)
}

func (e *DateParseError) Is(target error) bool { return target == ErrDateParse }
