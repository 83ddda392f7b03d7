package pipeline

import (
	"fmt"

	"medallion/internal/config"
	"medallion/internal/metrics"
	"medallion/internal/metrics/datadog"
	"medallion/internal/metrics/prompush"
)

// NewMetricsBackend builds the backend selected by cfg. It returns nil for
// none or an empty backend name.
func NewMetricsBackend(cfg config.Metrics, job string) (metrics.Backend, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "prometheus":
		return prompush.NewBackend(job, cfg.PushgatewayURL)
	case "datadog":
		ns := cfg.Namespace
		if ns == "" {
			ns = "medallion."
		}
		return datadog.NewBackend(datadog.Config{Addr: cfg.DatadogAddr, Namespace: ns, GlobalTags: cfg.Tags})
	}
	return nil, fmt.Errorf("unknown metrics backend %q", cfg.Backend)
}

// SetupMetrics installs the configured backend globally and returns a
// function that flushes it and restores the no-op backend.
func SetupMetrics(cfg config.Metrics, job string) (func() error, error) {
	b, err := NewMetricsBackend(cfg, job)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if b == nil {
		return func() error { return nil }, nil
	}
	metrics.SetBackend(b)
	return func() error {
		defer metrics.Reset()
		return metrics.Flush()
	}, nil
}
