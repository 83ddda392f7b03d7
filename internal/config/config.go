// Package config defines the configuration model for a medallion pipeline
// run and the helpers to load it from disk.
//
// A pipeline file is YAML (or JSON when the extension is .json). It names the
// sources ingested into bronze, the silver transforms applied to them, the
// gold artifacts derived from silver tables, and the sink each layer writes
// to.
//
// Example (trimmed):
//
//	job: sales
//	storage:
//	  bronze: { kind: csv, dir: data/raw }
//	  silver: { kind: csv, dir: data/processed }
//	  gold:   { kind: sqlite, dsn: "file:data/gold.db" }
//	sources:
//	  - name: sales_transactions
//	    source_system: pos_system
//	    kind: file
//	    path: testdata/sales.csv
//	silver:
//	  - source: sales_transactions
//	    steps:
//	      - kind: clean_column_names
//	gold:
//	  aggregates:
//	    - name: sales_by_product
//	      source: sales_transactions
//	      group_by: [product_id]
//	      aggregations: [{ column: quantity, func: sum }]
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"medallion/internal/storage"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run; it labels metrics and log lines.
	Job string `yaml:"job" json:"job"`

	// Sources are ingested into bronze in declared order.
	Sources []Source `yaml:"sources" json:"sources"`

	// Silver lists the transforms applied to bronze tables, in order.
	Silver []SilverTable `yaml:"silver" json:"silver"`

	// Gold describes the business artifacts derived from silver tables.
	Gold Gold `yaml:"gold" json:"gold"`

	// Storage selects the sink of every layer.
	Storage Storage `yaml:"storage" json:"storage"`

	Runtime Runtime `yaml:"runtime" json:"runtime"`

	Metrics Metrics `yaml:"metrics" json:"metrics"`
}

// Source describes one dataset ingested into bronze.
type Source struct {
	// Name is the bronze table name.
	Name string `yaml:"name" json:"name"`

	// SourceSystem is recorded in the _source_system provenance column.
	SourceSystem string `yaml:"source_system" json:"source_system"`

	// Kind selects the reader: file, http, or sql.
	Kind string `yaml:"kind" json:"kind"`

	// Path is the local file path for kind=file.
	Path string `yaml:"path" json:"path"`

	// URL is fetched for kind=http.
	URL string `yaml:"url" json:"url"`

	// Format is csv, tsv, or json. Empty detects it from Path or URL.
	Format string `yaml:"format" json:"format"`

	// Options are handed to the parser (header, delimiter, types, ...).
	Options Options `yaml:"options" json:"options"`

	// Table and Storage select the table read for kind=sql.
	Table   string         `yaml:"table" json:"table"`
	Storage storage.Config `yaml:"storage" json:"storage"`
}

// SilverTable describes the transform of one bronze table.
type SilverTable struct {
	// Source is the bronze table read.
	Source string `yaml:"source" json:"source"`

	// Output is the silver table written. Defaults to Source.
	Output string `yaml:"output" json:"output"`

	// Steps run in order before deduplication and null dropping.
	Steps []Step `yaml:"steps" json:"steps"`

	// Deduplicate drops exact duplicate rows. Defaults to true.
	Deduplicate *bool `yaml:"deduplicate" json:"deduplicate"`

	// DropNulls drops rows holding a null in NullColumns (or any column
	// when NullColumns is empty).
	DropNulls   bool     `yaml:"drop_nulls" json:"drop_nulls"`
	NullColumns []string `yaml:"null_columns" json:"null_columns"`

	// KeepProvenance keeps the bronze _source_system and
	// _ingestion_timestamp columns.
	KeepProvenance bool `yaml:"keep_provenance" json:"keep_provenance"`
}

// OutputName returns the silver table name.
func (s SilverTable) OutputName() string {
	if s.Output != "" {
		return s.Output
	}
	return s.Source
}

// DeduplicateEnabled reports the effective dedup flag.
func (s SilverTable) DeduplicateEnabled() bool {
	return s.Deduplicate == nil || *s.Deduplicate
}

// Step is a single silver cleaning step. The options shape depends on Kind.
type Step struct {
	Kind    string  `yaml:"kind" json:"kind"`
	Options Options `yaml:"options" json:"options"`
}

// Gold groups the gold artifacts. They are built in field order:
// dimensions, facts, aggregates, joins, metrics.
type Gold struct {
	Dimensions []Dimension `yaml:"dimensions" json:"dimensions"`
	Facts      []Fact      `yaml:"facts" json:"facts"`
	Aggregates []Aggregate `yaml:"aggregates" json:"aggregates"`
	Joins      []Join      `yaml:"joins" json:"joins"`
	Metrics    []MetricSet `yaml:"metrics" json:"metrics"`
}

// Dimension builds dim_<Name> from Source.
type Dimension struct {
	Name       string   `yaml:"name" json:"name"`
	Source     string   `yaml:"source" json:"source"`
	Key        string   `yaml:"key" json:"key"`
	Attributes []string `yaml:"attributes" json:"attributes"`
}

// Fact builds fact_<Name> from Source.
type Fact struct {
	Name          string   `yaml:"name" json:"name"`
	Source        string   `yaml:"source" json:"source"`
	DimensionKeys []string `yaml:"dimension_keys" json:"dimension_keys"`
	Measures      []string `yaml:"measures" json:"measures"`
}

// Aggregate builds a grouped table.
type Aggregate struct {
	Name         string        `yaml:"name" json:"name"`
	Source       string        `yaml:"source" json:"source"`
	GroupBy      []string      `yaml:"group_by" json:"group_by"`
	Aggregations []Aggregation `yaml:"aggregations" json:"aggregations"`
}

// Aggregation applies Func to Column.
type Aggregation struct {
	Column string `yaml:"column" json:"column"`
	Func   string `yaml:"func" json:"func"`
}

// Join merges two tables on shared key columns.
type Join struct {
	Name  string   `yaml:"name" json:"name"`
	Left  string   `yaml:"left" json:"left"`
	Right string   `yaml:"right" json:"right"`
	On    []string `yaml:"on" json:"on"`
	How   string   `yaml:"how" json:"how"`
}

// MetricSet derives columns on Source and writes the result as Name.
type MetricSet struct {
	Name    string   `yaml:"name" json:"name"`
	Source  string   `yaml:"source" json:"source"`
	Metrics []Metric `yaml:"metrics" json:"metrics"`
}

// Metric is Name = Left Op Right, where Left and Right name columns.
type Metric struct {
	Name  string `yaml:"name" json:"name"`
	Left  string `yaml:"left" json:"left"`
	Op    string `yaml:"op" json:"op"`
	Right string `yaml:"right" json:"right"`
}

// Storage holds the sink configuration of each layer.
type Storage struct {
	Bronze storage.Config `yaml:"bronze" json:"bronze"`
	Silver storage.Config `yaml:"silver" json:"silver"`
	Gold   storage.Config `yaml:"gold" json:"gold"`
}

// Layer returns the sink config of the named layer.
func (s Storage) Layer(name string) (storage.Config, bool) {
	switch name {
	case "bronze":
		return s.Bronze, true
	case "silver":
		return s.Silver, true
	case "gold":
		return s.Gold, true
	}
	return storage.Config{}, false
}

// Runtime controls run-wide behavior.
type Runtime struct {
	// OnError is abort (default) or skip. With skip a failing source,
	// silver table, or gold artifact is logged and the run continues.
	OnError string `yaml:"on_error" json:"on_error"`

	// DateFormats are Go time layouts accepted by standardize_dates when a
	// step does not list its own.
	DateFormats []string `yaml:"date_formats" json:"date_formats"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none (default), prometheus, or datadog.
	Backend string `yaml:"backend" json:"backend"`

	// PushgatewayURL is used by the prometheus backend.
	PushgatewayURL string `yaml:"pushgateway_url" json:"pushgateway_url"`

	// DatadogAddr, Namespace, and Tags are used by the datadog backend.
	DatadogAddr string   `yaml:"datadog_addr" json:"datadog_addr"`
	Namespace   string   `yaml:"namespace" json:"namespace"`
	Tags        []string `yaml:"tags" json:"tags"`
}

// Load reads the pipeline file at path. Variables from a .env file next to
// the working directory are loaded first (existing variables win) and
// ${VAR} references in DSNs, paths, and URLs are expanded.
func Load(path string) (Pipeline, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	p, err := Decode(b, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline %s: %w", path, err)
	}
	p.ExpandEnv()
	return p, nil
}

// Decode parses b as JSON when ext is ".json" and as YAML otherwise.
// Unknown keys are rejected.
func Decode(b []byte, ext string) (Pipeline, error) {
	var p Pipeline
	if strings.EqualFold(ext, ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
		return p, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// ExpandEnv replaces ${VAR} and $VAR references in connection strings,
// paths, and URLs using the process environment.
func (p *Pipeline) ExpandEnv() {
	expand := func(c *storage.Config) {
		c.DSN = os.ExpandEnv(c.DSN)
		c.Dir = os.ExpandEnv(c.Dir)
	}
	expand(&p.Storage.Bronze)
	expand(&p.Storage.Silver)
	expand(&p.Storage.Gold)
	for i := range p.Sources {
		s := &p.Sources[i]
		s.Path = os.ExpandEnv(s.Path)
		s.URL = os.ExpandEnv(s.URL)
		expand(&s.Storage)
	}
	p.Metrics.PushgatewayURL = os.ExpandEnv(p.Metrics.PushgatewayURL)
	p.Metrics.DatadogAddr = os.ExpandEnv(p.Metrics.DatadogAddr)
}

// Options is a small helper to fetch typed values from decoded option maps.
// It performs only minimal type coercion and returns the provided default
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML integers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. Used for single-character settings such as a CSV
// delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object.
// Non-string values are ignored. Returns an empty map when the key is missing
// or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		switch m := v.(type) {
		case map[string]any:
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		case map[string]string:
			for k, s := range m {
				res[k] = s
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		case string:
			return []string{vv}
		}
	}
	return nil
}

// Any returns the raw value for key.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON decodes a missing or null options object to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var tmp map[string]any
	if err := n.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}
