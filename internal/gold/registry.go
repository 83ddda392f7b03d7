package gold

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"medallion/internal/table"
)

// Dimension holds the natural key to surrogate key assignments of one
// dimension. Keys start at 1, increase in first-seen order and are never
// reused. A Dimension is only mutated through its Registry.
type Dimension struct {
	Name      string
	KeyColumn string

	keys map[string]int64
	next int64
}

// NewDimension returns an empty dimension.
func NewDimension(name, keyColumn string) *Dimension {
	return &Dimension{Name: name, KeyColumn: keyColumn, keys: map[string]int64{}, next: 1}
}

// SurrogateColumn is the name of the surrogate key column, <name>_key.
func (d *Dimension) SurrogateColumn() string { return d.Name + "_key" }

// naturalKey encodes v. Integral floats encode like ints so that a Float
// fact column resolves against an Int dimension.
func naturalKey(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		v = int64(f)
	}
	return string(table.AppendKey(nil, v))
}

func (d *Dimension) lookup(v any) (int64, bool) {
	k, ok := d.keys[naturalKey(v)]
	return k, ok
}

func (d *Dimension) assign(v any) int64 {
	nk := naturalKey(v)
	if k, ok := d.keys[nk]; ok {
		return k
	}
	k := d.next
	d.keys[nk] = k
	d.next++
	return k
}

// Registry maps dimension names and natural key columns to dimensions. It
// lives for one process (one pipeline run) and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	dims     map[string]*Dimension
	byColumn map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{dims: map[string]*Dimension{}, byColumn: map[string]string{}}
}

// Register adds d. Registering the same dimension again is a no-op; a
// different dimension under the same name, or a second dimension claiming
// the same natural key column, is an error.
func (r *Registry) Register(d *Dimension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(d)
}

func (r *Registry) registerLocked(d *Dimension) error {
	if cur, ok := r.dims[d.Name]; ok {
		if cur == d {
			return nil
		}
		return fmt.Errorf("dimension %q already registered", d.Name)
	}
	if owner, ok := r.byColumn[d.KeyColumn]; ok {
		return fmt.Errorf("natural key column %q already owned by dimension %q", d.KeyColumn, owner)
	}
	r.dims[d.Name] = d
	r.byColumn[d.KeyColumn] = d.Name
	return nil
}

// ensure returns the dimension called name, creating and registering it
// when absent. Rebuilding a dimension keeps its earlier assignments.
func (r *Registry) ensure(name, keyColumn string) (*Dimension, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dims[name]; ok {
		if d.KeyColumn != keyColumn {
			return nil, fmt.Errorf("dimension %q is keyed by %q, not %q", name, d.KeyColumn, keyColumn)
		}
		return d, nil
	}
	d := NewDimension(name, keyColumn)
	if err := r.registerLocked(d); err != nil {
		return nil, err
	}
	return d, nil
}

// assignAll assigns surrogate keys to naturals in order under one lock.
func (r *Registry) assignAll(d *Dimension, naturals []any) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(naturals))
	for i, v := range naturals {
		out[i] = d.assign(v)
	}
	return out
}

// Resolve returns the surrogate key of naturalKey in the named dimension.
func (r *Registry) Resolve(name string, naturalKey any) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dims[name]
	if !ok {
		return 0, fmt.Errorf("dimension %q not registered", name)
	}
	if naturalKey == nil {
		return 0, &UnresolvedDimensionKeyError{Dimension: name, Column: d.KeyColumn, Row: -1, Value: nil}
	}
	k, ok := d.lookup(naturalKey)
	if !ok {
		return 0, &UnresolvedDimensionKeyError{Dimension: name, Column: d.KeyColumn, Row: -1, Value: naturalKey}
	}
	return k, nil
}

// ForKey returns the dimension whose natural key column is column.
func (r *Registry) ForKey(column string) (*Dimension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byColumn[column]
	if !ok {
		return nil, false
	}
	return r.dims[name], true
}

// Names returns the registered dimension names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dims))
	for n := range r.dims {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of natural keys the named dimension has assigned.
func (r *Registry) Len(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.dims[name]; ok {
		return len(d.keys)
	}
	return 0
}

// Load registers the dimension stored in dim, a table previously produced
// by CreateDimension. Its surrogate column <name>_key and natural key
// column keyColumn seed the assignments; new keys continue after the
// largest loaded one.
func (r *Registry) Load(name, keyColumn string, dim *table.Table) error {
	d := NewDimension(name, keyColumn)
	sk, nk := dim.ColumnIndex(d.SurrogateColumn()), dim.ColumnIndex(keyColumn)
	if sk < 0 {
		return &table.ColumnNotFoundError{Column: d.SurrogateColumn(), Available: dim.ColumnNames()}
	}
	if nk < 0 {
		return &table.ColumnNotFoundError{Column: keyColumn, Available: dim.ColumnNames()}
	}
	if typ := dim.Columns()[sk].Type; typ != table.Int {
		return &table.SchemaError{Reason: fmt.Sprintf("dimension %s: %s is %s, want int", name, d.SurrogateColumn(), typ)}
	}
	var maxKey int64
	seen := make(map[int64]bool, dim.RowCount())
	for i := 0; i < dim.RowCount(); i++ {
		k, ok := dim.Value(i, sk).(int64)
		if !ok || k < 1 || seen[k] {
			return &table.SchemaError{Reason: fmt.Sprintf("dimension %s row %d: invalid surrogate key %v", name, i, dim.Value(i, sk))}
		}
		seen[k] = true
		v := dim.Value(i, nk)
		if v == nil {
			continue
		}
		d.keys[naturalKey(v)] = k
		maxKey = max(maxKey, k)
	}
	d.next = maxKey + 1

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dims[name]; ok {
		return fmt.Errorf("dimension %q already registered", name)
	}
	return r.registerLocked(d)
}
