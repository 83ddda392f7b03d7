package config

import (
	"fmt"
	"strings"

	"medallion/internal/storage"
	"medallion/internal/table"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that should be surfaced to users but
	// does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.gold.kind",
// "silver[1].steps[0].options.types"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Known kinds. The executing packages own the implementations; the linter
// only needs the names.
var (
	sourceKinds  = set("file", "http", "sql")
	formats      = set("csv", "tsv", "json")
	storageKinds = set("memory", "csv", "sqlite", "postgres", "mssql", "mysql", "clickhouse")
	stepKinds    = set("clean_column_names", "trim", "rename", "drop_columns", "cast_types",
		"standardize_dates", "derive", "require_columns")
	aggFuncs   = set("sum", "count", "count_all", "avg", "mean", "min", "max")
	joinHows   = set("inner", "left", "right", "outer")
	metricOps  = set("add", "sub", "mul", "div")
	onErrors   = set("", "abort", "skip")
	mBackends  = set("", "none", "prometheus", "datadog")
	fileDriven = set("csv")
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func has(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

type linter struct{ issues []Issue }

func (l *linter) errorf(path, format string, args ...any) {
	l.issues = append(l.issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (l *linter) warnf(path, format string, args ...any) {
	l.issues = append(l.issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidatePipeline performs static validation of a Pipeline.
//
// It does not mutate the pipeline. Callers decide whether warnings are
// fatal; HasErrors reports whether any blocking issue was found.
//
// Example:
//
//	p, err := config.Load("configs/pipelines/sales.yaml")
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Println(iss)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	l := &linter{}

	if strings.TrimSpace(p.Job) == "" {
		l.errorf("job", "job must not be empty; it labels metrics and identifies runs")
	}

	bronze := l.validateSources(p.Sources)
	silver := l.validateSilver(p.Silver, bronze)
	l.validateGold(p.Gold, silver)

	l.validateStorage("storage.bronze", p.Storage.Bronze)
	l.validateStorage("storage.silver", p.Storage.Silver)
	l.validateStorage("storage.gold", p.Storage.Gold)

	if !has(onErrors, p.Runtime.OnError) {
		l.errorf("runtime.on_error", "on_error must be abort or skip, got %q", p.Runtime.OnError)
	}
	l.validateMetrics(p.Metrics)

	return l.issues
}

// validateSources returns the set of bronze table names.
func (l *linter) validateSources(srcs []Source) map[string]struct{} {
	names := map[string]struct{}{}
	if len(srcs) == 0 {
		l.warnf("sources", "no sources configured; bronze tables must already exist")
	}
	for i, s := range srcs {
		path := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			l.errorf(path+".name", "source name must not be empty")
		} else if has(names, s.Name) {
			l.errorf(path+".name", "duplicate source name %q", s.Name)
		}
		names[s.Name] = struct{}{}

		if strings.TrimSpace(s.SourceSystem) == "" {
			l.warnf(path+".source_system", "source_system is empty; provenance will record %q", "unknown")
		}
		if !has(sourceKinds, s.Kind) {
			l.errorf(path+".kind", "unknown source kind %q; want file, http, or sql", s.Kind)
			continue
		}
		if s.Format != "" && !has(formats, s.Format) {
			l.errorf(path+".format", "unknown format %q; want csv, tsv, or json", s.Format)
		}

		switch s.Kind {
		case "file":
			if strings.TrimSpace(s.Path) == "" {
				l.errorf(path+".path", "file source requires a non-empty path")
			}
		case "http":
			if strings.TrimSpace(s.URL) == "" {
				l.errorf(path+".url", "http source requires a non-empty url")
			}
		case "sql":
			if strings.TrimSpace(s.Table) == "" {
				l.errorf(path+".table", "sql source requires a table name")
			}
			l.validateStorage(path+".storage", s.Storage)
		}
		if s.Kind != "sql" {
			if types := s.Options.StringMap("types"); len(types) > 0 {
				for col, name := range types {
					if _, err := table.ParseType(name); err != nil {
						l.errorf(path+".options.types."+col, "%v", err)
					}
				}
			}
		}
	}
	return names
}

// validateSilver returns the set of silver table names.
func (l *linter) validateSilver(ts []SilverTable, bronze map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for i, st := range ts {
		path := fmt.Sprintf("silver[%d]", i)
		if strings.TrimSpace(st.Source) == "" {
			l.errorf(path+".source", "silver source must name a bronze table")
		} else if !has(bronze, st.Source) {
			l.warnf(path+".source", "bronze table %q is not produced by this pipeline; it must already exist", st.Source)
		}
		name := st.OutputName()
		if has(out, name) {
			l.errorf(path+".output", "duplicate silver table %q", name)
		}
		out[name] = struct{}{}
		if len(st.NullColumns) > 0 && !st.DropNulls {
			l.warnf(path+".null_columns", "null_columns is ignored unless drop_nulls is true")
		}
		for j, step := range st.Steps {
			l.validateStep(fmt.Sprintf("%s.steps[%d]", path, j), step)
		}
	}
	return out
}

func (l *linter) validateStep(path string, s Step) {
	if !has(stepKinds, s.Kind) {
		l.errorf(path+".kind", "unknown step kind %q", s.Kind)
		return
	}
	o := s.Options
	switch s.Kind {
	case "rename":
		if len(o.StringMap("mapping")) == 0 {
			l.errorf(path+".options.mapping", "rename requires a non-empty mapping")
		}
	case "drop_columns", "standardize_dates":
		if len(o.StringSlice("columns")) == 0 {
			l.errorf(path+".options.columns", "%s requires columns", s.Kind)
		}
	case "cast_types":
		types := o.StringMap("types")
		if len(types) == 0 {
			l.errorf(path+".options.types", "cast_types requires a non-empty types mapping")
		}
		for col, name := range types {
			if _, err := table.ParseType(name); err != nil {
				l.errorf(path+".options.types."+col, "%v", err)
			}
		}
	case "derive":
		for _, k := range []string{"column", "left", "right"} {
			if o.String(k, "") == "" {
				l.errorf(path+".options."+k, "derive requires %s", k)
			}
		}
		if op := o.String("op", ""); !has(metricOps, op) {
			l.errorf(path+".options.op", "unknown derive op %q; want add, sub, mul, or div", op)
		}
	case "require_columns":
		if len(o.StringSlice("columns")) == 0 && len(o.StringMap("types")) == 0 {
			l.warnf(path+".options", "require_columns has neither columns nor types; it checks nothing")
		}
	}
}

func (l *linter) validateGold(g Gold, silver map[string]struct{}) {
	// Gold inputs may be silver tables or earlier gold outputs.
	known := map[string]struct{}{}
	for k := range silver {
		known[k] = struct{}{}
	}
	checkSource := func(path, src string) {
		if strings.TrimSpace(src) == "" {
			l.errorf(path, "source must not be empty")
			return
		}
		if !has(known, src) {
			l.warnf(path, "table %q is not produced by this pipeline; it must already exist", src)
		}
	}
	outputs := map[string]struct{}{}
	addOutput := func(path, name string) {
		if strings.TrimSpace(name) == "" {
			l.errorf(path, "name must not be empty")
			return
		}
		if has(outputs, name) {
			l.errorf(path, "duplicate gold table %q", name)
		}
		outputs[name] = struct{}{}
		known[name] = struct{}{}
	}

	dimKeys := map[string]struct{}{}
	for i, d := range g.Dimensions {
		path := fmt.Sprintf("gold.dimensions[%d]", i)
		checkSource(path+".source", d.Source)
		addOutput(path+".name", "dim_"+strings.TrimSpace(d.Name))
		if d.Key == "" {
			l.errorf(path+".key", "dimension requires a natural key column")
			continue
		}
		if has(dimKeys, d.Key) {
			l.errorf(path+".key", "natural key %q is already owned by another dimension", d.Key)
		}
		dimKeys[d.Key] = struct{}{}
	}
	for i, f := range g.Facts {
		path := fmt.Sprintf("gold.facts[%d]", i)
		checkSource(path+".source", f.Source)
		addOutput(path+".name", "fact_"+strings.TrimSpace(f.Name))
		if len(f.DimensionKeys) == 0 {
			l.warnf(path+".dimension_keys", "fact has no dimension keys")
		}
		for j, k := range f.DimensionKeys {
			if !has(dimKeys, k) {
				l.errorf(fmt.Sprintf("%s.dimension_keys[%d]", path, j), "no dimension declares natural key %q", k)
			}
		}
	}
	for i, a := range g.Aggregates {
		path := fmt.Sprintf("gold.aggregates[%d]", i)
		checkSource(path+".source", a.Source)
		addOutput(path+".name", a.Name)
		if len(a.GroupBy) == 0 {
			l.errorf(path+".group_by", "aggregate requires at least one group_by column")
		}
		if len(a.Aggregations) == 0 {
			l.warnf(path+".aggregations", "aggregate has no aggregations; it only lists distinct groups")
		}
		for j, ag := range a.Aggregations {
			if ag.Column == "" {
				l.errorf(fmt.Sprintf("%s.aggregations[%d].column", path, j), "aggregation column must not be empty")
			}
			if !has(aggFuncs, ag.Func) {
				l.errorf(fmt.Sprintf("%s.aggregations[%d].func", path, j), "unknown aggregation %q", ag.Func)
			}
		}
	}
	for i, j := range g.Joins {
		path := fmt.Sprintf("gold.joins[%d]", i)
		checkSource(path+".left", j.Left)
		checkSource(path+".right", j.Right)
		addOutput(path+".name", j.Name)
		if len(j.On) == 0 {
			l.errorf(path+".on", "join requires at least one key column")
		}
		if j.How != "" && !has(joinHows, j.How) {
			l.errorf(path+".how", "unknown join type %q; want inner, left, right, or outer", j.How)
		}
	}
	for i, m := range g.Metrics {
		path := fmt.Sprintf("gold.metrics[%d]", i)
		checkSource(path+".source", m.Source)
		addOutput(path+".name", m.Name)
		for j, mt := range m.Metrics {
			mp := fmt.Sprintf("%s.metrics[%d]", path, j)
			if mt.Name == "" || mt.Left == "" || mt.Right == "" {
				l.errorf(mp, "metric requires name, left, and right")
			}
			if !has(metricOps, mt.Op) {
				l.errorf(mp+".op", "unknown metric op %q; want add, sub, mul, or div", mt.Op)
			}
		}
	}
}

func (l *linter) validateStorage(path string, c storage.Config) {
	if strings.TrimSpace(c.Kind) == "" {
		l.errorf(path+".kind", "storage kind must not be empty")
		return
	}
	if !has(storageKinds, c.Kind) {
		l.warnf(path+".kind", "unknown storage kind %q; ensure a matching backend is registered", c.Kind)
		return
	}
	switch {
	case c.Kind == "memory":
	case has(fileDriven, c.Kind):
		if strings.TrimSpace(c.Dir) == "" {
			l.errorf(path+".dir", "%s storage requires dir", c.Kind)
		}
	default:
		if strings.TrimSpace(c.DSN) == "" {
			l.errorf(path+".dsn", "%s storage requires dsn", c.Kind)
		}
	}
	if c.BatchSize < 0 {
		l.errorf(path+".batch_size", "batch_size must not be negative")
	}
}

func (l *linter) validateMetrics(m Metrics) {
	if !has(mBackends, m.Backend) {
		l.errorf("metrics.backend", "unknown metrics backend %q; want prometheus or datadog", m.Backend)
		return
	}
	switch m.Backend {
	case "prometheus":
		if m.PushgatewayURL == "" {
			l.errorf("metrics.pushgateway_url", "prometheus backend requires pushgateway_url")
		}
	case "datadog":
		if m.DatadogAddr == "" {
			l.errorf("metrics.datadog_addr", "datadog backend requires datadog_addr")
		}
	}
}
