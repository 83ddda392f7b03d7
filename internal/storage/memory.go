package storage

import (
	"context"
	"slices"
	"sync"

	"medallion/internal/table"
)

func init() {
	Register("memory", func(context.Context, Config) (Sink, error) {
		return NewMemory(), nil
	})
}

// Memory is a process-local Sink. Tables are immutable, so storing the
// pointer is enough to make later reads independent of later writes.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{tables: map[string]*table.Table{}}
}

func (m *Memory) Write(_ context.Context, name string, t *table.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = t
	return nil
}

func (m *Memory) Read(_ context.Context, name string) (*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, NotFound(name)
	}
	return t, nil
}

func (m *Memory) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for n := range m.tables {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

func (m *Memory) Close() error { return nil }
