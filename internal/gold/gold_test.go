package gold

import (
	"context"
	"errors"
	"sync"
	"testing"

	"medallion/internal/config"
	"medallion/internal/logger"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/stretchr/testify/require"
)

func col(name string, typ table.Type) table.Column { return table.Column{Name: name, Type: typ} }

func products() *table.Table {
	return table.MustNew(
		[]table.Column{col("product_id", table.String), col("name", table.String)},
		[][]any{{"A", "B", "A"}, {"Widget", "Gadget", "WidgetX"}},
	)
}

func TestAggregateSumFirstSeenOrder(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		[]table.Column{col("id", table.Int), col("qty", table.Int)},
		[][]any{{1, 1, 2}, {3, 5, 2}},
	)
	got, err := Aggregate(in, []string{"id"}, []Aggregation{{Column: "qty", Func: "sum"}})
	require.NoError(t, err)
	want := table.MustNew(
		[]table.Column{col("id", table.Int), col("qty_sum", table.Int)},
		[][]any{{1, 2}, {8, 2}},
	)
	require.True(t, want.Equal(got), "got %v", got.Rows())
}

func TestAggregateFunctions(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		[]table.Column{col("g", table.String), col("x", table.Float), col("s", table.String)},
		[][]any{
			{"b", "a", "b", "a", nil, "b"},
			{1.5, nil, 2.5, 4.0, 9.0, nil},
			{"q", "z", nil, "y", "w", "p"},
		},
	)
	got, err := Aggregate(in, []string{"g"}, []Aggregation{
		{Column: "x", Func: "sum"},
		{Column: "x", Func: "count"},
		{Column: "x", Func: "count_all"},
		{Column: "x", Func: "avg"},
		{Column: "x", Func: "MEAN"},
		{Column: "x", Func: "min"},
		{Column: "s", Func: "max"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"g", "x_sum", "x_count", "x_count_all", "x_avg", "x_mean", "x_min", "s_max"}, got.ColumnNames())
	require.Equal(t, [][]any{
		{"b", 4.0, int64(2), int64(3), 2.0, 2.0, 1.5, "q"},
		{"a", 4.0, int64(1), int64(2), 4.0, 4.0, 4.0, "z"},
	}, got.Rows())

	typ, _ := got.ColumnType("s_max")
	require.Equal(t, table.String, typ)
}

func TestAggregateAllNullGroup(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		[]table.Column{col("g", table.Int), col("x", table.Int)},
		[][]any{{1, 1}, {nil, nil}},
	)
	got, err := Aggregate(in, []string{"g"}, []Aggregation{
		{Column: "x", Func: "sum"}, {Column: "x", Func: "avg"}, {Column: "x", Func: "min"}, {Column: "x", Func: "count"},
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), int64(0), nil, nil, int64(0)}}, got.Rows())
}

func TestAggregateWholeTable(t *testing.T) {
	t.Parallel()

	in := table.MustNew([]table.Column{col("x", table.Int)}, [][]any{{}})
	got, err := Aggregate(in, nil, []Aggregation{{Column: "x", Func: "count_all"}, {Column: "x", Func: "sum"}})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(0), int64(0)}}, got.Rows())
}

func TestAggregateErrors(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		[]table.Column{col("id", table.Int), col("name", table.String)},
		[][]any{{1}, {"a"}},
	)
	_, err := Aggregate(in, []string{"id"}, []Aggregation{{Column: "name", Func: "median"}})
	require.ErrorIs(t, err, ErrUnknownAggregation)
	var ue *UnknownAggregationError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "median", ue.Func)

	_, err = Aggregate(in, []string{"nope"}, nil)
	require.ErrorIs(t, err, table.ErrColumnNotFound)

	_, err = Aggregate(in, []string{"id"}, []Aggregation{{Column: "qty", Func: "sum"}})
	require.ErrorIs(t, err, table.ErrColumnNotFound)

	_, err = Aggregate(in, []string{"id"}, []Aggregation{{Column: "name", Func: "sum"}})
	require.ErrorIs(t, err, table.ErrSchema)

	_, err = Aggregate(in, []string{"id"}, []Aggregation{{Column: "name", Func: "min"}, {Column: "name", Func: "min"}})
	require.ErrorIs(t, err, table.ErrDuplicateColumn)
}

func TestCreateDimensionFirstSeenWins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	got, err := CreateDimension(reg, products(), "product", "product_id", []string{"name"})
	require.NoError(t, err)
	require.Equal(t, []string{"product_key", "product_id", "name"}, got.ColumnNames())
	require.Equal(t, [][]any{{int64(1), "A", "Widget"}, {int64(2), "B", "Gadget"}}, got.Rows())

	k, err := reg.Resolve("product", "B")
	require.NoError(t, err)
	require.Equal(t, int64(2), k)
	require.Equal(t, []string{"product"}, reg.Names())
}

func TestCreateDimensionIgnoresKeyInAttributes(t *testing.T) {
	t.Parallel()

	got, err := CreateDimension(NewRegistry(), products(), "product", "product_id", []string{"product_id", "name"})
	require.NoError(t, err)
	require.Equal(t, []string{"product_key", "product_id", "name"}, got.ColumnNames())
	require.Equal(t, [][]any{{int64(1), "A", "Widget"}, {int64(2), "B", "Gadget"}}, got.Rows())
}

func TestRegistryResolveUnknownKey(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := CreateDimension(reg, products(), "product", "product_id", nil)
	require.NoError(t, err)

	_, err = reg.Resolve("product", "Z")
	var ue *UnresolvedDimensionKeyError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, UnresolvedDimensionKeyError{Dimension: "product", Column: "product_id", Row: -1, Value: "Z"}, *ue)
	require.Equal(t, "dimension product: product_id=Z has no surrogate key", ue.Error())

	_, err = reg.Resolve("product", nil)
	require.ErrorAs(t, err, &ue)
	require.Equal(t, -1, ue.Row)
	require.NotContains(t, ue.Error(), "row")
}

func TestCreateDimensionRebuildKeepsKeys(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := CreateDimension(reg, products(), "product", "product_id", nil)
	require.NoError(t, err)

	next := table.MustNew([]table.Column{col("product_id", table.String)}, [][]any{{"C", nil, "A"}})
	got, err := CreateDimension(reg, next, "product", "product_id", nil)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(3), "C"}, {int64(1), "A"}}, got.Rows())

	_, err = CreateDimension(reg, next, "product", "other_id", nil)
	require.ErrorIs(t, err, table.ErrColumnNotFound)
	other := table.MustNew([]table.Column{col("sku", table.String)}, [][]any{{"x"}})
	_, err = CreateDimension(reg, other, "product", "sku", nil)
	require.ErrorContains(t, err, "keyed by")
	_, err = CreateDimension(reg, products(), "item", "product_id", nil)
	require.ErrorContains(t, err, "already owned")
}

func TestCreateFact(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := CreateDimension(reg, products(), "product", "product_id", []string{"name"})
	require.NoError(t, err)
	cust := table.MustNew([]table.Column{col("customer_id", table.Int)}, [][]any{{10, 20}})
	_, err = CreateDimension(reg, cust, "customer", "customer_id", nil)
	require.NoError(t, err)

	sales := table.MustNew(
		[]table.Column{col("product_id", table.String), col("customer_id", table.Float), col("qty", table.Int)},
		[][]any{{"B", "A"}, {20.0, 10.0}, {2, nil}},
	)
	got, err := CreateFact(reg, sales, []string{"product_id", "customer_id"}, []string{"qty"})
	require.NoError(t, err)
	require.Equal(t, []string{"product_key", "customer_key", "qty"}, got.ColumnNames())
	require.Equal(t, [][]any{{int64(2), int64(2), int64(2)}, {int64(1), int64(1), nil}}, got.Rows())
}

func TestCreateFactUnresolved(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := CreateDimension(reg, products(), "product", "product_id", nil)
	require.NoError(t, err)

	sales := table.MustNew(
		[]table.Column{col("product_id", table.String), col("qty", table.Int)},
		[][]any{{"A", "Z"}, {1, 2}},
	)
	_, err = CreateFact(reg, sales, []string{"product_id"}, []string{"qty"})
	require.ErrorIs(t, err, ErrUnresolvedDimensionKey)
	var ue *UnresolvedDimensionKeyError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, UnresolvedDimensionKeyError{Dimension: "product", Column: "product_id", Row: 1, Value: "Z"}, *ue)

	withNull := table.MustNew([]table.Column{col("product_id", table.String)}, [][]any{{nil}})
	_, err = CreateFact(reg, withNull, []string{"product_id"}, nil)
	require.ErrorIs(t, err, ErrUnresolvedDimensionKey)

	noDim := table.MustNew([]table.Column{col("store_id", table.Int)}, [][]any{{1}})
	_, err = CreateFact(reg, noDim, []string{"store_id"}, nil)
	require.ErrorAs(t, err, &ue)
	require.Equal(t, -1, ue.Row)
	require.Contains(t, ue.Error(), "no dimension registered")

	_, err = CreateFact(reg, sales, []string{"product_id"}, []string{"price"})
	require.ErrorIs(t, err, table.ErrColumnNotFound)
}

func TestRegistryLoad(t *testing.T) {
	t.Parallel()

	stored := table.MustNew(
		[]table.Column{col("product_key", table.Int), col("product_id", table.String)},
		[][]any{{4, 2}, {"A", "B"}},
	)
	reg := NewRegistry()
	require.NoError(t, reg.Load("product", "product_id", stored))
	require.Equal(t, 2, reg.Len("product"))

	got, err := CreateDimension(reg, products(), "product", "product_id", nil)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(4), "A"}, {int64(2), "B"}}, got.Rows())

	next := table.MustNew([]table.Column{col("product_id", table.String)}, [][]any{{"C"}})
	got, err = CreateDimension(reg, next, "product", "product_id", nil)
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(5), "C"}}, got.Rows())

	require.Error(t, reg.Load("product", "product_id", stored))

	dup := table.MustNew(
		[]table.Column{col("x_key", table.Int), col("x", table.String)},
		[][]any{{1, 1}, {"a", "b"}},
	)
	require.ErrorIs(t, NewRegistry().Load("x", "x", dup), table.ErrSchema)
	require.ErrorIs(t, NewRegistry().Load("y", "x", dup), table.ErrColumnNotFound)
}

func TestRegistryConcurrentAssign(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	d, err := reg.ensure("n", "n_id")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vals := make([]any, 100)
			for i := range vals {
				vals[i] = int64(i)
			}
			reg.assignAll(d, vals)
		}()
	}
	wg.Wait()
	require.Equal(t, 100, reg.Len("n"))
	for i := int64(0); i < 100; i++ {
		k, err := reg.Resolve("n", i)
		require.NoError(t, err)
		require.True(t, k >= 1 && k <= 100)
	}
}

func joinInputs() (*table.Table, *table.Table) {
	left := table.MustNew(
		[]table.Column{col("id", table.Int), col("name", table.String)},
		[][]any{{1, 2, nil, 3}, {"a", "b", "n", "c"}},
	)
	right := table.MustNew(
		[]table.Column{col("id", table.Int), col("name", table.String), col("qty", table.Int)},
		[][]any{{3, 1, 4, 1}, {"C", "A", "D", "A2"}, {30, 10, 40, 11}},
	)
	return left, right
}

func TestJoin(t *testing.T) {
	t.Parallel()

	left, right := joinInputs()
	cases := map[string][][]any{
		"inner": {
			{int64(1), "a", "A", int64(10)},
			{int64(1), "a", "A2", int64(11)},
			{int64(3), "c", "C", int64(30)},
		},
		"left": {
			{int64(1), "a", "A", int64(10)},
			{int64(1), "a", "A2", int64(11)},
			{int64(2), "b", nil, nil},
			{nil, "n", nil, nil},
			{int64(3), "c", "C", int64(30)},
		},
		"right": {
			{int64(3), "c", "C", int64(30)},
			{int64(1), "a", "A", int64(10)},
			{int64(4), nil, "D", int64(40)},
			{int64(1), "a", "A2", int64(11)},
		},
		"outer": {
			{int64(1), "a", "A", int64(10)},
			{int64(1), "a", "A2", int64(11)},
			{int64(2), "b", nil, nil},
			{nil, "n", nil, nil},
			{int64(3), "c", "C", int64(30)},
			{int64(4), nil, "D", int64(40)},
		},
	}
	for how, want := range cases {
		got, err := Join(left, right, []string{"id"}, how)
		require.NoError(t, err, how)
		require.Equal(t, []string{"id", "name_x", "name_y", "qty"}, got.ColumnNames(), how)
		require.Equal(t, want, got.Rows(), how)
	}
}

func TestJoinErrors(t *testing.T) {
	t.Parallel()

	left, right := joinInputs()
	_, err := Join(left, right, []string{"id"}, "cross")
	require.ErrorIs(t, err, ErrUnknownJoin)
	_, err = Join(left, right, nil, "inner")
	require.ErrorIs(t, err, table.ErrSchema)
	_, err = Join(left, right, []string{"qty"}, "inner")
	require.ErrorIs(t, err, table.ErrColumnNotFound)

	str := table.MustNew([]table.Column{col("id", table.String)}, [][]any{{"1"}})
	_, err = Join(left, str, []string{"id"}, "")
	require.ErrorIs(t, err, table.ErrSchema)
}

func TestCalculateMetrics(t *testing.T) {
	t.Parallel()

	in := table.MustNew(
		[]table.Column{col("qty", table.Int), col("price", table.Float)},
		[][]any{{2, 3}, {1.5, 2.0}},
	)
	got, err := CalculateMetrics(in, []Metric{
		{Name: "revenue", Left: "qty", Op: "mul", Right: "price"},
		{Name: "double", Left: "revenue", Op: "+", Right: "revenue"},
	})
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(2), 1.5, 3.0, 6.0}, {int64(3), 2.0, 6.0, 12.0}}, got.Rows())

	_, err = CalculateMetrics(in, []Metric{{Name: "m", Left: "qty", Op: "pow", Right: "qty"}})
	require.ErrorIs(t, err, table.ErrUnknownOp)
	_, err = CalculateMetrics(in, []Metric{{Name: "m", Left: "qty", Op: "add", Right: "nope"}})
	require.ErrorIs(t, err, table.ErrColumnNotFound)
}

type failingSink struct{ storage.Sink }

func (failingSink) Write(context.Context, string, *table.Table) error {
	return errors.New("disk full")
}

func TestAggregatorWritesTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := storage.NewMemory()
	a := New(mem, nil, WithLogger(logger.Quiet()))

	_, err := a.CreateDimension(ctx, products(), "product", "product_id", []string{"name"})
	require.NoError(t, err)
	sales := table.MustNew(
		[]table.Column{col("product_id", table.String), col("qty", table.Int), col("price", table.Float)},
		[][]any{{"A", "B", "A"}, {3, 2, 5}, {1.0, 2.0, 1.0}},
	)
	_, err = a.CreateFact(ctx, sales, "sales", []string{"product_id"}, []string{"qty"})
	require.NoError(t, err)
	agg, err := a.Aggregate(ctx, sales, "sales_by_product", []string{"product_id"}, []Aggregation{{Column: "qty", Func: "sum"}})
	require.NoError(t, err)
	_, err = a.Join(ctx, agg, products(), "sales_named", []string{"product_id"}, "left")
	require.NoError(t, err)
	_, err = a.CalculateMetrics(ctx, sales, "sales_revenue", []config.Metric{{Name: "revenue", Left: "qty", Op: "mul", Right: "price"}})
	require.NoError(t, err)

	names, err := a.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"dim_product", "fact_sales", "sales_by_product", "sales_named", "sales_revenue"}, names)

	fact, err := a.ReadTable(ctx, "fact_sales")
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(1), int64(3)}, {int64(2), int64(2)}, {int64(1), int64(5)}}, fact.Rows())

	_, err = a.Aggregate(ctx, sales, "bad", []string{"product_id"}, []Aggregation{{Column: "qty", Func: "p99"}})
	require.ErrorIs(t, err, ErrUnknownAggregation)
	_, err = a.ReadTable(ctx, "bad")
	require.ErrorIs(t, err, storage.ErrTableNotFound)

	_, err = New(failingSink{mem}, nil, WithLogger(logger.Quiet())).Aggregate(ctx, sales, "x", nil, nil)
	require.ErrorContains(t, err, "disk full")
}

func TestAggregatorLoadDimension(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := storage.NewMemory()
	first := New(mem, nil, WithLogger(logger.Quiet()))
	_, err := first.CreateDimension(ctx, products(), "product", "product_id", nil)
	require.NoError(t, err)

	second := New(mem, nil, WithLogger(logger.Quiet()))
	ok, err := second.LoadDimension(ctx, "product", "product_id")
	require.NoError(t, err)
	require.True(t, ok)
	k, err := second.Registry().Resolve("product", "B")
	require.NoError(t, err)
	require.Equal(t, int64(2), k)

	ok, err = second.LoadDimension(ctx, "customer", "customer_id")
	require.NoError(t, err)
	require.False(t, ok)
}
