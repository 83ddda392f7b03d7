package storage

import (
	"context"
	"strings"

	"medallion/internal/table"
)

type prefixed struct {
	Sink
	prefix string
}

// WithPrefix returns a Sink that stores every table as prefix+name and only
// lists tables carrying the prefix.
func WithPrefix(s Sink, prefix string) Sink {
	return &prefixed{Sink: s, prefix: prefix}
}

func (p *prefixed) Write(ctx context.Context, name string, t *table.Table) error {
	return p.Sink.Write(ctx, p.prefix+name, t)
}

func (p *prefixed) Read(ctx context.Context, name string) (*table.Table, error) {
	return p.Sink.Read(ctx, p.prefix+name)
}

func (p *prefixed) List(ctx context.Context) ([]string, error) {
	all, err := p.Sink.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, n := range all {
		if rest, ok := strings.CutPrefix(n, p.prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}
