// Package metrics records operational metrics for pipeline runs behind a
// small backend interface.
//
// A global backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete systems (Prometheus Pushgateway, DogStatsD) live in
// subpackages; the rest of the code depends only on this package.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal           = "medallion_step_total"
	StepDurationSeconds = "medallion_step_duration_seconds"
	RowsTotal           = "medallion_rows_total"
	RunsTotal           = "medallion_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStep counts one layer step (a bronze ingest, a silver table, a gold
// artifact) and observes its duration.
func RecordStep(job, layer, step string, err error, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"layer":  layer,
		"step":   step,
		"status": status(err),
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind for a layer. Kinds include
// "ingested", "written", "duplicates" and "null_dropped".
func RecordRows(job, layer, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{
		"job":   job,
		"layer": layer,
		"kind":  kind,
	})
}

// RecordRun counts a finished pipeline run.
func RecordRun(job string, err error) {
	current().IncCounter(RunsTotal, 1, Labels{
		"job":    job,
		"status": status(err),
	})
}
