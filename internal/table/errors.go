package table

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels let callers branch with errors.Is without caring about the
// concrete error payload.
var (
	ErrSchema           = errors.New("schema error")
	ErrColumnNotFound   = errors.New("column not found")
	ErrRowCountMismatch = errors.New("row count mismatch")
	ErrDuplicateColumn  = errors.New("duplicate column")
	ErrUnknownType      = errors.New("unknown column type")
)

// SchemaError reports a structurally invalid table: ragged columns, duplicate
// names, or values that do not match the declared column type.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "schema: " + e.Reason }

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// ColumnNotFoundError reports a reference to a column the table does not have.
type ColumnNotFoundError struct {
	Column    string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found (have: %s)", e.Column, strings.Join(e.Available, ", "))
}

func (e *ColumnNotFoundError) Is(target error) bool { return target == ErrColumnNotFound }

// RowCountMismatchError reports a column whose length differs from the
// table's row count.
type RowCountMismatchError struct {
	Column string
	Got    int
	Want   int
}

func (e *RowCountMismatchError) Error() string {
	return fmt.Sprintf("column %q has %d values, table has %d rows", e.Column, e.Got, e.Want)
}

func (e *RowCountMismatchError) Is(target error) bool { return target == ErrRowCountMismatch }

// DuplicateColumnError reports two columns ending up with the same name.
// From is set when a rename or normalization produced the collision.
type DuplicateColumnError struct {
	Column string
	From   []string
}

func (e *DuplicateColumnError) Error() string {
	if len(e.From) > 0 {
		return fmt.Sprintf("duplicate column %q (from %s)", e.Column, strings.Join(e.From, ", "))
	}
	return fmt.Sprintf("duplicate column %q", e.Column)
}

func (e *DuplicateColumnError) Is(target error) bool { return target == ErrDuplicateColumn }
