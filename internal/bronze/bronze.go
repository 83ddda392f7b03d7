// Package bronze implements the raw layer: datasets are stored as received,
// with two provenance columns appended, and nothing else changes.
package bronze

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medallion/internal/datasource"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/jonboulle/clockwork"
)

// Provenance columns appended to every bronze table.
const (
	ColumnSourceSystem = "_source_system"
	ColumnIngestedAt   = "_ingestion_timestamp"
)

// DefaultSourceSystem is recorded when the caller does not name one.
const DefaultSourceSystem = "unknown"

// MetadataColumns returns the provenance column names in append order.
func MetadataColumns() []string {
	return []string{ColumnSourceSystem, ColumnIngestedAt}
}

// Record is an ingested table and its provenance.
type Record struct {
	Table        *table.Table
	TableName    string
	SourceSystem string
	IngestedAt   time.Time
}

// DatasetReader materializes a source descriptor. *datasource.Reader
// satisfies it.
type DatasetReader interface {
	Read(ctx context.Context, d datasource.Descriptor) (*table.Table, error)
}

// Ingestor writes raw tables to the bronze sink.
type Ingestor struct {
	sink   storage.Sink
	reader DatasetReader
	clock  clockwork.Clock
	log    *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock sets the clock stamping ingestions.
func WithClock(c clockwork.Clock) Option { return func(i *Ingestor) { i.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(i *Ingestor) { i.log = l } }

// WithReader sets the reader used by IngestFrom.
func WithReader(r DatasetReader) Option { return func(i *Ingestor) { i.reader = r } }

// New returns an Ingestor writing to sink.
func New(sink storage.Sink, opts ...Option) *Ingestor {
	i := &Ingestor{
		sink:  sink,
		clock: clockwork.NewRealClock(),
		log:   slog.Default(),
		last:  map[string]time.Time{},
	}
	for _, o := range opts {
		o(i)
	}
	if i.reader == nil {
		i.reader = &datasource.Reader{Logger: i.log}
	}
	return i
}

// Ingest appends provenance to t and writes it under tableName, replacing
// any earlier content. Source columns are never modified; a source column
// named like a provenance column is a DuplicateColumnError.
//
// IngestedAt never goes backwards for the same tableName within one
// Ingestor, even if the clock does.
func (i *Ingestor) Ingest(ctx context.Context, t *table.Table, tableName, sourceSystem string) (Record, error) {
	if tableName == "" {
		return Record{}, fmt.Errorf("bronze: table name must not be empty")
	}
	if sourceSystem == "" {
		sourceSystem = DefaultSourceSystem
	}
	for _, c := range MetadataColumns() {
		if t.HasColumn(c) {
			return Record{}, &table.DuplicateColumnError{Column: c}
		}
	}

	at := i.stamp(tableName)
	n := t.RowCount()
	systems := make([]any, n)
	stamps := make([]any, n)
	for r := 0; r < n; r++ {
		systems[r] = sourceSystem
		stamps[r] = at
	}
	out, err := t.WithColumn(ColumnSourceSystem, table.String, systems)
	if err != nil {
		return Record{}, fmt.Errorf("bronze: %w", err)
	}
	if out, err = out.WithColumn(ColumnIngestedAt, table.Timestamp, stamps); err != nil {
		return Record{}, fmt.Errorf("bronze: %w", err)
	}

	if err := i.sink.Write(ctx, tableName, out); err != nil {
		return Record{}, fmt.Errorf("bronze: write %s: %w", tableName, err)
	}
	i.log.Info("bronze ingested",
		"table", tableName,
		"source_system", sourceSystem,
		"rows", out.RowCount(),
		"columns", out.NumColumns(),
	)
	return Record{Table: out, TableName: tableName, SourceSystem: sourceSystem, IngestedAt: at}, nil
}

func (i *Ingestor) stamp(name string) time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.clock.Now().UTC()
	if prev, ok := i.last[name]; ok && now.Before(prev) {
		now = prev
	}
	i.last[name] = now
	return now
}

// IngestFrom reads d and ingests the result. Read failures are returned as
// the reader reports them (SourceUnavailableError or SourceFormatError) and
// nothing is written.
func (i *Ingestor) IngestFrom(ctx context.Context, d datasource.Descriptor, tableName, sourceSystem string) (Record, error) {
	t, err := i.reader.Read(ctx, d)
	if err != nil {
		return Record{}, fmt.Errorf("bronze: read %s: %w", tableName, err)
	}
	return i.Ingest(ctx, t, tableName, sourceSystem)
}

// ReadTable returns the stored bronze table, provenance included.
func (i *Ingestor) ReadTable(ctx context.Context, name string) (*table.Table, error) {
	return i.sink.Read(ctx, name)
}

// ListTables returns the stored bronze table names.
func (i *Ingestor) ListTables(ctx context.Context) ([]string, error) {
	return i.sink.List(ctx)
}
