// Package datasource materializes the datasets ingested into bronze. A
// Descriptor names where the data lives (a local file, an HTTP URL, or a
// table in a SQL sink) and how to parse it; Reader turns it into a typed
// table.
//
// Read failures are classified: the data could not be reached
// (SourceUnavailableError) or it was reached but is malformed
// (SourceFormatError). Neither is retried here; HTTP transport retries are
// the only exception and live in httpds.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"medallion/internal/config"
	"medallion/internal/datasource/file"
	"medallion/internal/datasource/httpds"
	"medallion/internal/parser"
	csvparser "medallion/internal/parser/csv"
	jsonparser "medallion/internal/parser/json"
	"medallion/internal/storage"
	"medallion/internal/table"
)

// Source opens a raw byte stream.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Sentinels matched by the typed errors below.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceFormat      = errors.New("source format")
)

// SourceUnavailableError reports a source that could not be opened or read.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func (e *SourceUnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }

// SourceFormatError reports content that could not be parsed.
type SourceFormatError struct {
	Source string
	Err    error
}

func (e *SourceFormatError) Error() string {
	return fmt.Sprintf("source %s malformed: %v", e.Source, e.Err)
}

func (e *SourceFormatError) Unwrap() error { return e.Err }

func (e *SourceFormatError) Is(target error) bool { return target == ErrSourceFormat }

// Source kinds.
const (
	KindFile = "file"
	KindHTTP = "http"
	KindSQL  = "sql"
)

// Descriptor describes one dataset to read.
type Descriptor struct {
	Kind string

	// Path (file) or URL (http) locate the bytes.
	Path string
	URL  string

	// Format is csv, tsv, or json; empty detects it from Path or URL and
	// falls back to csv.
	Format string

	// Options are passed to the parser.
	Options config.Options

	// Table and Storage locate the dataset for kind=sql.
	Table   string
	Storage storage.Config
}

// FromConfig converts a configured source into a Descriptor.
func FromConfig(s config.Source) Descriptor {
	return Descriptor{
		Kind:    s.Kind,
		Path:    s.Path,
		URL:     s.URL,
		Format:  s.Format,
		Options: s.Options,
		Table:   s.Table,
		Storage: s.Storage,
	}
}

// String returns the location used in error messages.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindHTTP:
		return d.URL
	case KindSQL:
		return d.Storage.Kind + ":" + d.Table
	}
	return d.Path
}

// Reader reads Descriptors into tables.
type Reader struct {
	// HTTP fetches kind=http sources. Nil uses a client with two retries.
	HTTP *httpds.Client

	// OpenSink opens the sink behind kind=sql sources. Nil uses storage.New.
	OpenSink func(ctx context.Context, cfg storage.Config) (storage.Sink, error)

	// Logger receives skipped-row warnings. Nil uses slog.Default.
	Logger *slog.Logger
}

// Read materializes d.
func (r *Reader) Read(ctx context.Context, d Descriptor) (*table.Table, error) {
	switch d.Kind {
	case KindFile, "":
		if d.Path == "" {
			return nil, fmt.Errorf("file source requires a path")
		}
		return r.parse(ctx, d, file.NewLocal(d.Path), d.Path)
	case KindHTTP:
		if d.URL == "" {
			return nil, fmt.Errorf("http source requires a url")
		}
		return r.parse(ctx, d, httpds.NewSource(r.httpClient(), d.URL), d.URL)
	case KindSQL:
		return r.readSQL(ctx, d)
	}
	return nil, fmt.Errorf("unsupported source kind %q", d.Kind)
}

func (r *Reader) httpClient() *httpds.Client {
	if r.HTTP == nil {
		r.HTTP = httpds.NewClient(httpds.Config{MaxRetries: 2})
	}
	return r.HTTP
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Reader) parse(ctx context.Context, d Descriptor, src Source, name string) (*table.Table, error) {
	p, err := newParser(d.Format, d.Options, name)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", d, err)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, &SourceUnavailableError{Source: d.String(), Err: err}
	}
	defer rc.Close()

	t, skipped, err := p.Parse(rc)
	if err != nil {
		if errors.Is(err, csvparser.ErrFormat) || errors.Is(err, jsonparser.ErrFormat) {
			return nil, &SourceFormatError{Source: d.String(), Err: err}
		}
		return nil, &SourceUnavailableError{Source: d.String(), Err: err}
	}
	if skipped > 0 {
		r.logger().Warn("skipped malformed rows", "source", d.String(), "skipped", skipped)
	}
	return t, nil
}

func (r *Reader) readSQL(ctx context.Context, d Descriptor) (*table.Table, error) {
	if d.Table == "" {
		return nil, fmt.Errorf("sql source requires a table")
	}
	open := r.OpenSink
	if open == nil {
		open = storage.New
	}
	sink, err := open(ctx, d.Storage)
	if err != nil {
		return nil, &SourceUnavailableError{Source: d.String(), Err: err}
	}
	defer sink.Close()

	t, err := sink.Read(ctx, d.Table)
	if err != nil {
		return nil, &SourceUnavailableError{Source: d.String(), Err: err}
	}
	return t, nil
}

// newParser picks the parser for format, detecting it from name when empty.
func newParser(format string, opts config.Options, name string) (parser.Parser, error) {
	if format == "" {
		format = file.DetectFormat(name)
	}
	switch format {
	case "csv", "tsv", "":
		o, err := csvparser.FromConfigOptions(opts)
		if err != nil {
			return nil, err
		}
		if format == "tsv" && opts.Any("delimiter") == nil {
			o.Comma = '\t'
		}
		return csvparser.NewParser(o), nil
	case "json":
		o, err := jsonparser.FromConfigOptions(opts)
		if err != nil {
			return nil, err
		}
		if opts.Any("allow_arrays") == nil && strings.HasSuffix(strings.ToLower(stripQuery(name)), ".json") {
			o.AllowArrays = true
		}
		return jsonparser.NewParser(o), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func stripQuery(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		return name[:i]
	}
	return name
}
