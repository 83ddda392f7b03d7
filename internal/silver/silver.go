// Package silver implements the cleaned layer. A silver table is a pure
// function of a bronze table and an ordered list of steps, followed by
// optional deduplication and null dropping, in that order.
package silver

import (
	"context"
	"fmt"
	"log/slog"

	"medallion/internal/bronze"
	"medallion/internal/storage"
	"medallion/internal/table"
)

// Options controls the fixed post-processing that follows the steps.
type Options struct {
	// Deduplicate drops exact duplicate rows.
	Deduplicate bool

	// DropNulls drops rows with a null in NullColumns, or in any column
	// when NullColumns is empty.
	DropNulls   bool
	NullColumns []string

	// KeepProvenance keeps the bronze provenance columns, which are
	// otherwise removed before the steps run.
	KeepProvenance bool
}

// Transformer applies steps and writes results to the silver sink.
type Transformer struct {
	sink        storage.Sink
	log         *slog.Logger
	dateFormats []string
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Transformer) { t.log = l } }

// WithDateFormats sets the layouts standardize_dates uses when a step does
// not list its own.
func WithDateFormats(layouts []string) Option {
	return func(t *Transformer) { t.dateFormats = layouts }
}

// New returns a Transformer writing to sink.
func New(sink storage.Sink, opts ...Option) *Transformer {
	t := &Transformer{sink: sink, log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Apply runs steps in order without touching storage. The first failing
// step aborts with an error that still matches the step's typed error.
func (x *Transformer) Apply(t *table.Table, steps []Step) (*table.Table, error) {
	out := t
	for i, s := range steps {
		var err error
		if out, err = s.apply(out, x.dateFormats); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s.Kind, err)
		}
		x.log.Debug("silver step applied", "step", s.Kind, "rows", out.RowCount(), "columns", out.NumColumns())
	}
	return out, nil
}

// Transform strips provenance (unless kept), applies steps, deduplicates
// and drops nulls as requested, and writes the result under tableName.
// Nothing is written when any stage fails.
func (x *Transformer) Transform(ctx context.Context, t *table.Table, tableName string, steps []Step, opt Options) (*table.Table, error) {
	if tableName == "" {
		return nil, fmt.Errorf("silver: table name must not be empty")
	}
	out := t
	if !opt.KeepProvenance {
		out = out.Drop(bronze.MetadataColumns()...)
	}
	out, err := x.Apply(out, steps)
	if err != nil {
		return nil, fmt.Errorf("silver %s: %w", tableName, err)
	}
	before := out.RowCount()
	if opt.Deduplicate {
		out = Deduplicate(out)
	}
	deduped := before - out.RowCount()
	if opt.DropNulls {
		if out, err = DropNulls(out, opt.NullColumns...); err != nil {
			return nil, fmt.Errorf("silver %s: drop nulls: %w", tableName, err)
		}
	}

	if err := x.sink.Write(ctx, tableName, out); err != nil {
		return nil, fmt.Errorf("silver: write %s: %w", tableName, err)
	}
	x.log.Info("silver transformed",
		"table", tableName,
		"rows_in", t.RowCount(),
		"rows", out.RowCount(),
		"duplicates", deduped,
		"columns", out.NumColumns(),
	)
	return out, nil
}

// ReadTable returns a stored silver table.
func (x *Transformer) ReadTable(ctx context.Context, name string) (*table.Table, error) {
	return x.sink.Read(ctx, name)
}

// ListTables returns the stored silver table names.
func (x *Transformer) ListTables(ctx context.Context) ([]string, error) {
	return x.sink.List(ctx)
}
