// Package parser defines the contract shared by the format parsers used by
// file and HTTP data sources.
package parser

import (
	"io"

	"medallion/internal/table"
)

// Parser decodes a byte stream into a typed table. The int result counts
// input rows that were skipped in lenient mode.
type Parser interface {
	Parse(r io.Reader) (*table.Table, int, error)
}
