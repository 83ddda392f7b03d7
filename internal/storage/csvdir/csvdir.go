// Package csvdir registers the "csv" storage backend: one CSV file per table
// in a directory, plus a small YAML sidecar that records column types so a
// read returns the same typed table that was written. Files written by other
// tools (no sidecar) are read with type inference.
//
// NULL and the empty string share the empty field, so empty strings read back
// as NULL.
package csvdir

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	csvparser "medallion/internal/parser/csv"
	"medallion/internal/storage"
	"medallion/internal/table"

	"gopkg.in/yaml.v3"
)

// newSink is a test hook that points to open by default.
var newSink = open

func init() {
	storage.Register("csv", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return newSink(ctx, cfg)
	})
}

const (
	dataExt   = ".csv"
	schemaExt = ".schema.yaml"
)

// Sink stores tables under dir.
type Sink struct{ dir string }

func open(_ context.Context, cfg storage.Config) (storage.Sink, error) {
	return New(cfg.Dir)
}

// New creates dir if needed and returns a Sink rooted there.
func New(dir string) (*Sink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("csv: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv: create %s: %w", dir, err)
	}
	return &Sink{dir: dir}, nil
}

// Dir returns the root directory.
func (s *Sink) Dir() string { return s.dir }

type schemaFile struct {
	Columns []table.Column `yaml:"columns"`
}

func (s *Sink) path(name, ext string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("csv: invalid table name %q", name)
	}
	return filepath.Join(s.dir, name+ext), nil
}

// Write replaces <dir>/<name>.csv and its sidecar. Both files are written to
// temporaries and renamed into place.
func (s *Sink) Write(ctx context.Context, name string, t *table.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dataPath, err := s.path(name, dataExt)
	if err != nil {
		return err
	}
	schemaPath, _ := s.path(name, schemaExt)

	meta, err := yaml.Marshal(schemaFile{Columns: t.Columns()})
	if err != nil {
		return fmt.Errorf("csv: encode schema %s: %w", name, err)
	}
	if err := writeAtomic(schemaPath, func(f *os.File) error {
		_, err := f.Write(meta)
		return err
	}); err != nil {
		return err
	}
	return writeAtomic(dataPath, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		w := csv.NewWriter(bw)
		if t.NumColumns() > 0 {
			if err := w.Write(t.ColumnNames()); err != nil {
				return err
			}
		}
		rec := make([]string, t.NumColumns())
		for _, row := range t.Rows() {
			for j, v := range row {
				rec[j] = table.FormatValue(v)
			}
			// encoding/csv writes a lone empty field as a blank line, which
			// readers skip.
			if len(rec) == 1 && rec[0] == "" {
				w.Flush()
				if _, err := bw.WriteString("\"\"\n"); err != nil {
					return err
				}
				continue
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return bw.Flush()
	})
}

func writeAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("csv: create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("csv: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csv: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("csv: rename %s: %w", path, err)
	}
	return nil
}

// Read parses <dir>/<name>.csv using the sidecar types when present.
func (s *Sink) Read(ctx context.Context, name string) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dataPath, err := s.path(name, dataExt)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.NotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", dataPath, err)
	}
	defer f.Close()

	opt := csvparser.Options{}
	sf, err := s.readSchema(name)
	if err != nil {
		return nil, err
	}
	if sf != nil {
		opt.Types = make(map[string]table.Type, len(sf.Columns))
		for _, c := range sf.Columns {
			opt.Types[c.Name] = c.Type
		}
	}
	t, _, err := csvparser.NewParser(opt).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("csv: read %s: %w", name, err)
	}
	return t, nil
}

func (s *Sink) readSchema(name string) (*schemaFile, error) {
	p, _ := s.path(name, schemaExt)
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read schema %s: %w", name, err)
	}
	var sf schemaFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("csv: decode schema %s: %w", name, err)
	}
	return &sf, nil
}

// List returns the table names with a .csv file in dir.
func (s *Sink) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("csv: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := strings.CutSuffix(e.Name(), dataExt); ok && !strings.HasPrefix(n, ".") {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *Sink) Close() error { return nil }
