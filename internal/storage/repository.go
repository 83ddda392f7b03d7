// Package storage defines the storage-agnostic sink contract used by every
// pipeline layer and a small factory that backends register with.
//
// A Sink persists whole tables by name. Writes replace the previous content
// of the named table (last write wins); reads return what was last written.
// Backends live in subpackages (sqlite, postgres, mssql, mysql, clickhouse,
// csvdir) and register themselves from init, so callers only depend on this
// package and blank-import medallion/internal/storage/all.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"medallion/internal/table"
)

// ErrTableNotFound is returned by Read for names the sink has never written.
var ErrTableNotFound = errors.New("table not found")

// Sink persists and reads back named tables.
type Sink interface {
	// Write replaces the content of the named table.
	Write(ctx context.Context, name string, t *table.Table) error
	// Read returns the last table written under name.
	Read(ctx context.Context, name string) (*table.Table, error)
	// List returns the stored table names in lexical order.
	List(ctx context.Context) ([]string, error)
	// Close releases connections or file handles.
	Close() error
}

// Config selects and configures a backend. Fields a backend does not use are
// ignored.
type Config struct {
	// Kind selects the backend: memory, csv, sqlite, postgres, mssql, mysql,
	// clickhouse.
	Kind string `yaml:"kind" json:"kind"`

	// DSN is the driver connection string for SQL backends.
	DSN string `yaml:"dsn" json:"dsn"`

	// Dir is the directory for file backends.
	Dir string `yaml:"dir" json:"dir"`

	// Schema is the SQL schema/database tables are created in (e.g. public,
	// dbo). Empty uses the backend's default.
	Schema string `yaml:"schema" json:"schema"`

	// Prefix is prepended to every table name, which lets several layers
	// share one database.
	Prefix string `yaml:"prefix" json:"prefix"`

	// BatchSize bounds the rows sent per insert batch. Zero uses
	// DefaultBatchSize.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// Factory opens a Sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// ListKinds returns the registered backend kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New opens the sink selected by cfg.Kind. When cfg.Prefix is set the sink
// is wrapped so that callers keep using unprefixed names.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Prefix != "" {
		return WithPrefix(s, cfg.Prefix), nil
	}
	return s, nil
}

// NotFound wraps ErrTableNotFound with the table name.
func NotFound(name string) error {
	return fmt.Errorf("%w: %s", ErrTableNotFound, name)
}
