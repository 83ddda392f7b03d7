// Package pipeline runs a configured medallion pipeline: every source is
// ingested into bronze, every silver table is derived from its bronze
// table, then gold artifacts are built in the order dimensions, facts,
// aggregates, joins, metrics.
//
// Each step is all-or-nothing. With runtime.on_error=abort (the default)
// the first failing step ends the run; with skip the failure is recorded in
// the Summary and the run continues, so steps depending on the failed
// output fail in turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"medallion/internal/bronze"
	"medallion/internal/config"
	"medallion/internal/datasource"
	"medallion/internal/gold"
	"medallion/internal/metrics"
	"medallion/internal/silver"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Layer names.
const (
	LayerBronze = "bronze"
	LayerSilver = "silver"
	LayerGold   = "gold"
)

// Layers lists the layers in run order.
func Layers() []string { return []string{LayerBronze, LayerSilver, LayerGold} }

// OnError policies.
const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

// StepError reports the step that ended an aborted run.
type StepError struct {
	Layer string
	Step  string
	Err   error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s %s: %v", e.Layer, e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

// StepResult is the outcome of one step.
type StepResult struct {
	Layer    string
	Step     string
	Rows     int
	Duration time.Duration
	Err      error
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Job      string
	Started  time.Time
	Duration time.Duration
	Steps    []StepResult
}

// Failed returns the steps that failed.
func (s Summary) Failed() []StepResult {
	var out []StepResult
	for _, st := range s.Steps {
		if st.Err != nil {
			out = append(out, st)
		}
	}
	return out
}

// Event is sent to the progress callback after every step.
type Event struct {
	StepResult
	Index int
	Total int
}

// openSink is a test seam for opening layer sinks.
var openSink = storage.New

// Runner executes a pipeline. It owns the sinks it opened; call Close.
type Runner struct {
	cfg      config.Pipeline
	sinks    map[string]storage.Sink
	owned    []storage.Sink
	reader   bronze.DatasetReader
	clock    clockwork.Clock
	log      *slog.Logger
	progress func(Event)
	newID    func() string

	ingestor    *bronze.Ingestor
	transformer *silver.Transformer
	aggregator  *gold.Aggregator
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithClock sets the clock used for ingestion timestamps and durations.
func WithClock(c clockwork.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithReader replaces the source reader.
func WithReader(rd bronze.DatasetReader) Option { return func(r *Runner) { r.reader = rd } }

// WithProgress registers a callback invoked after each step.
func WithProgress(fn func(Event)) Option { return func(r *Runner) { r.progress = fn } }

// WithSink uses s for layer instead of opening the configured sink. The
// Runner does not close it.
func WithSink(layer string, s storage.Sink) Option {
	return func(r *Runner) { r.sinks[layer] = s }
}

// New opens the layer sinks and builds the layer components.
func New(ctx context.Context, cfg config.Pipeline, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:   cfg,
		sinks: map[string]storage.Sink{},
		clock: clockwork.NewRealClock(),
		log:   slog.Default(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	for _, layer := range Layers() {
		if r.sinks[layer] != nil {
			continue
		}
		sc, _ := cfg.Storage.Layer(layer)
		s, err := openSink(ctx, sc)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("open %s storage: %w", layer, err)
		}
		r.sinks[layer] = s
		r.owned = append(r.owned, s)
	}

	if r.reader == nil {
		r.reader = &datasource.Reader{Logger: r.log}
	}
	r.ingestor = bronze.New(r.sinks[LayerBronze],
		bronze.WithClock(r.clock), bronze.WithLogger(r.log), bronze.WithReader(r.reader))
	r.transformer = silver.New(r.sinks[LayerSilver],
		silver.WithLogger(r.log), silver.WithDateFormats(cfg.Runtime.DateFormats))
	r.aggregator = gold.New(r.sinks[LayerGold], gold.NewRegistry(), gold.WithLogger(r.log))
	return r, nil
}

// Close closes the sinks the Runner opened.
func (r *Runner) Close() error {
	var errs []error
	for _, s := range r.owned {
		errs = append(errs, s.Close())
	}
	r.owned = nil
	return errors.Join(errs...)
}

// Sink returns the sink of layer.
func (r *Runner) Sink(layer string) (storage.Sink, bool) {
	s, ok := r.sinks[layer]
	return s, ok
}

// StepCount returns the number of steps the given layers (all when empty)
// will run.
func (r *Runner) StepCount(layers ...string) int {
	n := 0
	if runs(layers, LayerBronze) {
		n += len(r.cfg.Sources)
	}
	if runs(layers, LayerSilver) {
		n += len(r.cfg.Silver)
	}
	if runs(layers, LayerGold) {
		g := r.cfg.Gold
		n += len(g.Dimensions) + len(g.Facts) + len(g.Aggregates) + len(g.Joins) + len(g.Metrics)
	}
	return n
}

func runs(layers []string, layer string) bool {
	return len(layers) == 0 || slices.Contains(layers, layer)
}

// run carries the state of one Run call.
type run struct {
	*Runner
	sum   Summary
	log   *slog.Logger
	total int
	built map[string]*table.Table
}

// Run executes the given layers (all when empty) in layer order.
func (r *Runner) Run(ctx context.Context, layers ...string) (Summary, error) {
	for _, l := range layers {
		if !slices.Contains(Layers(), l) {
			return Summary{}, fmt.Errorf("unknown layer %q", l)
		}
	}
	x := &run{
		Runner: r,
		sum:    Summary{RunID: r.newID(), Job: r.cfg.Job, Started: r.clock.Now()},
		total:  r.StepCount(layers...),
		built:  map[string]*table.Table{},
	}
	x.log = r.log.With("run_id", x.sum.RunID, "job", r.cfg.Job)
	x.log.Info("pipeline run started", "layers", layers, "steps", x.total)

	var err error
	if runs(layers, LayerBronze) {
		err = x.bronze(ctx)
	}
	if err == nil && runs(layers, LayerSilver) {
		err = x.silver(ctx)
	}
	if err == nil && runs(layers, LayerGold) {
		err = x.gold(ctx)
	}
	x.sum.Duration = r.clock.Since(x.sum.Started)

	runErr := err
	if runErr == nil && len(x.sum.Failed()) > 0 {
		runErr = fmt.Errorf("%d steps failed", len(x.sum.Failed()))
	}
	metrics.RecordRun(r.cfg.Job, runErr)
	if err != nil {
		x.log.Error("pipeline run aborted", "err", err, "duration", x.sum.Duration)
		return x.sum, err
	}
	x.log.Info("pipeline run finished",
		"steps", len(x.sum.Steps),
		"failed", len(x.sum.Failed()),
		"duration", x.sum.Duration,
	)
	return x.sum, nil
}

// step runs fn as one step and applies the on_error policy to its error.
func (x *run) step(layer, name string, fn func() (int, error)) error {
	start := x.clock.Now()
	rows, err := fn()
	res := StepResult{Layer: layer, Step: name, Rows: rows, Duration: x.clock.Since(start), Err: err}
	x.sum.Steps = append(x.sum.Steps, res)
	metrics.RecordStep(x.cfg.Job, layer, name, err, res.Duration)
	if x.progress != nil {
		x.progress(Event{StepResult: res, Index: len(x.sum.Steps), Total: x.total})
	}
	if err == nil {
		metrics.RecordRows(x.cfg.Job, layer, "written", int64(rows))
		return nil
	}
	if x.cfg.Runtime.OnError == OnErrorSkip {
		x.log.Warn("step failed, skipping", "layer", layer, "step", name, "err", err)
		return nil
	}
	return &StepError{Layer: layer, Step: name, Err: err}
}

func (x *run) bronze(ctx context.Context) error {
	for _, src := range x.cfg.Sources {
		err := x.step(LayerBronze, src.Name, func() (int, error) {
			rec, err := x.ingestor.IngestFrom(ctx, datasource.FromConfig(src), src.Name, src.SourceSystem)
			if err != nil {
				return 0, err
			}
			metrics.RecordRows(x.cfg.Job, LayerBronze, "ingested", int64(rec.Table.RowCount()))
			return rec.Table.RowCount(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *run) silver(ctx context.Context) error {
	for _, st := range x.cfg.Silver {
		err := x.step(LayerSilver, st.OutputName(), func() (int, error) {
			in, err := x.ingestor.ReadTable(ctx, st.Source)
			if err != nil {
				return 0, fmt.Errorf("read bronze %s: %w", st.Source, err)
			}
			out, err := x.transformer.Transform(ctx, in, st.OutputName(), silver.StepsFromConfig(st.Steps), silver.Options{
				Deduplicate:    st.DeduplicateEnabled(),
				DropNulls:      st.DropNulls,
				NullColumns:    st.NullColumns,
				KeepProvenance: st.KeepProvenance,
			})
			if err != nil {
				return 0, err
			}
			metrics.RecordRows(x.cfg.Job, LayerSilver, "dropped", int64(in.RowCount()-out.RowCount()))
			return out.RowCount(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// input resolves a gold input: an artifact built earlier in this run, then
// a silver table, then a stored gold table.
func (x *run) input(ctx context.Context, name string) (*table.Table, error) {
	if t, ok := x.built[name]; ok {
		return t, nil
	}
	t, err := x.transformer.ReadTable(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, storage.ErrTableNotFound) {
		return nil, fmt.Errorf("read silver %s: %w", name, err)
	}
	t, gerr := x.aggregator.ReadTable(ctx, name)
	if errors.Is(gerr, storage.ErrTableNotFound) {
		return nil, fmt.Errorf("input %s: %w", name, err)
	}
	if gerr != nil {
		return nil, fmt.Errorf("read gold %s: %w", name, gerr)
	}
	return t, nil
}

// gold builds the artifacts. Each builder returns the table it wrote.
func (x *run) gold(ctx context.Context) error {
	g := x.cfg.Gold
	type job struct {
		name  string
		build func() (*table.Table, error)
	}
	var jobs []job

	for _, d := range g.Dimensions {
		jobs = append(jobs, job{gold.DimensionTableName(d.Name), func() (*table.Table, error) {
			if !slices.Contains(x.aggregator.Registry().Names(), d.Name) {
				if _, err := x.aggregator.LoadDimension(ctx, d.Name, d.Key); err != nil {
					return nil, err
				}
			}
			in, err := x.input(ctx, d.Source)
			if err != nil {
				return nil, err
			}
			return x.aggregator.CreateDimension(ctx, in, d.Name, d.Key, d.Attributes)
		}})
	}
	for _, f := range g.Facts {
		jobs = append(jobs, job{gold.FactTableName(f.Name), func() (*table.Table, error) {
			in, err := x.input(ctx, f.Source)
			if err != nil {
				return nil, err
			}
			return x.aggregator.CreateFact(ctx, in, f.Name, f.DimensionKeys, f.Measures)
		}})
	}
	for _, a := range g.Aggregates {
		jobs = append(jobs, job{a.Name, func() (*table.Table, error) {
			in, err := x.input(ctx, a.Source)
			if err != nil {
				return nil, err
			}
			return x.aggregator.Aggregate(ctx, in, a.Name, a.GroupBy, a.Aggregations)
		}})
	}
	for _, j := range g.Joins {
		jobs = append(jobs, job{j.Name, func() (*table.Table, error) {
			left, err := x.input(ctx, j.Left)
			if err != nil {
				return nil, err
			}
			right, err := x.input(ctx, j.Right)
			if err != nil {
				return nil, err
			}
			return x.aggregator.Join(ctx, left, right, j.Name, j.On, j.How)
		}})
	}
	for _, m := range g.Metrics {
		jobs = append(jobs, job{m.Name, func() (*table.Table, error) {
			in, err := x.input(ctx, m.Source)
			if err != nil {
				return nil, err
			}
			return x.aggregator.CalculateMetrics(ctx, in, m.Name, m.Metrics)
		}})
	}

	for _, j := range jobs {
		err := x.step(LayerGold, j.name, func() (int, error) {
			t, err := j.build()
			if err != nil {
				return 0, err
			}
			x.built[j.name] = t
			return t.RowCount(), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
