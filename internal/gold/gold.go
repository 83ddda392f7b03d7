// Package gold builds the business layer from silver tables: grouped
// aggregates, star-schema dimensions and facts, joins, and derived metric
// columns. The pure builders (Aggregate, CreateDimension, CreateFact,
// Join, CalculateMetrics) never touch storage; Aggregator runs them and
// writes the results to the gold sink.
package gold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"medallion/internal/config"
	"medallion/internal/storage"
	"medallion/internal/table"
)

// Metric is Name = Left Op Right over columns of one table.
type Metric = config.Metric

// CalculateMetrics appends one derived column per metric, in order, so a
// later metric may use an earlier one as an operand.
func CalculateMetrics(t *table.Table, metrics []Metric) (*table.Table, error) {
	out := t
	for _, m := range metrics {
		op, err := table.ParseOp(m.Op)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Name, err)
		}
		if out, err = out.Derive(m.Name, m.Left, op, m.Right); err != nil {
			return nil, fmt.Errorf("metric %s: %w", m.Name, err)
		}
	}
	return out, nil
}

// Aggregator builds gold tables and writes them to its sink. Dimensions
// are registered in the Aggregator's Registry so later facts can resolve
// against them.
//
// A failed operation writes nothing, with one exception: CreateDimension
// assigns surrogate keys in the registry before the sink write, so keys
// handed out for a dimension whose write failed stay assigned. Keys are
// never reused, so a retry reproduces the same keys.
type Aggregator struct {
	sink     storage.Sink
	registry *Registry
	log      *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Aggregator) { a.log = l } }

// New returns an Aggregator writing to sink. A nil registry gets a fresh one.
func New(sink storage.Sink, registry *Registry, opts ...Option) *Aggregator {
	if registry == nil {
		registry = NewRegistry()
	}
	a := &Aggregator{sink: sink, registry: registry, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Registry returns the dimension registry.
func (a *Aggregator) Registry() *Registry { return a.registry }

func (a *Aggregator) write(ctx context.Context, kind, name string, t *table.Table) (*table.Table, error) {
	if err := a.sink.Write(ctx, name, t); err != nil {
		return nil, fmt.Errorf("gold: write %s: %w", name, err)
	}
	a.log.Info("gold table built", "kind", kind, "table", name, "rows", t.RowCount(), "columns", t.NumColumns())
	return t, nil
}

// Aggregate groups t and writes the result as tableName.
func (a *Aggregator) Aggregate(ctx context.Context, t *table.Table, tableName string, groupBy []string, aggs []Aggregation) (*table.Table, error) {
	out, err := Aggregate(t, groupBy, aggs)
	if err != nil {
		return nil, fmt.Errorf("gold aggregate %s: %w", tableName, err)
	}
	return a.write(ctx, "aggregate", tableName, out)
}

// CreateDimension builds dimension name from t and writes it as dim_<name>.
// The registry keeps the assigned keys even if the write fails.
func (a *Aggregator) CreateDimension(ctx context.Context, t *table.Table, name, keyColumn string, attributes []string) (*table.Table, error) {
	out, err := CreateDimension(a.registry, t, name, keyColumn, attributes)
	if err != nil {
		return nil, fmt.Errorf("gold dimension %s: %w", name, err)
	}
	return a.write(ctx, "dimension", DimensionTableName(name), out)
}

// CreateFact resolves t against registered dimensions and writes the
// result as fact_<name>.
func (a *Aggregator) CreateFact(ctx context.Context, t *table.Table, name string, dimensionKeys, measures []string) (*table.Table, error) {
	out, err := CreateFact(a.registry, t, dimensionKeys, measures)
	if err != nil {
		return nil, fmt.Errorf("gold fact %s: %w", name, err)
	}
	return a.write(ctx, "fact", FactTableName(name), out)
}

// Join merges left and right and writes the result as tableName.
func (a *Aggregator) Join(ctx context.Context, left, right *table.Table, tableName string, on []string, how string) (*table.Table, error) {
	out, err := Join(left, right, on, how)
	if err != nil {
		return nil, fmt.Errorf("gold join %s: %w", tableName, err)
	}
	return a.write(ctx, "join", tableName, out)
}

// CalculateMetrics derives metric columns on t and writes the result as
// tableName.
func (a *Aggregator) CalculateMetrics(ctx context.Context, t *table.Table, tableName string, metrics []Metric) (*table.Table, error) {
	out, err := CalculateMetrics(t, metrics)
	if err != nil {
		return nil, fmt.Errorf("gold metrics %s: %w", tableName, err)
	}
	return a.write(ctx, "metrics", tableName, out)
}

// LoadDimension registers the stored dim_<name> table, if any, so a rebuild
// continues its surrogate keys. It reports whether a table was found.
func (a *Aggregator) LoadDimension(ctx context.Context, name, keyColumn string) (bool, error) {
	t, err := a.sink.Read(ctx, DimensionTableName(name))
	if err != nil {
		if errors.Is(err, storage.ErrTableNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("gold: load dimension %s: %w", name, err)
	}
	if err := a.registry.Load(name, keyColumn, t); err != nil {
		return false, fmt.Errorf("gold: load dimension %s: %w", name, err)
	}
	a.log.Debug("gold dimension loaded", "dimension", name, "keys", a.registry.Len(name))
	return true, nil
}

// ReadTable returns a stored gold table.
func (a *Aggregator) ReadTable(ctx context.Context, name string) (*table.Table, error) {
	return a.sink.Read(ctx, name)
}

// ListTables returns the stored gold table names.
func (a *Aggregator) ListTables(ctx context.Context) ([]string, error) {
	return a.sink.List(ctx)
}
