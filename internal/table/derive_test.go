package table

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOp(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Op{"add": OpAdd, "+": OpAdd, "SUB": OpSub, "*": OpMul, " div ": OpDiv} {
		got, err := ParseOp(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseOp("pow")
	require.ErrorIs(t, err, ErrUnknownOp)
}

func TestDerive(t *testing.T) {
	t.Parallel()

	tbl := MustNew(
		[]Column{{Name: "qty", Type: Int}, {Name: "price", Type: Float}, {Name: "n", Type: Int}, {Name: "s", Type: String}},
		[][]any{{2, 3, nil}, {1.5, 2.0, 4.0}, {2, 0, 1}, {"a", "b", "c"}},
	)

	total, err := tbl.Derive("total", "qty", OpMul, "price")
	require.NoError(t, err)
	col, err := total.Column("total")
	require.NoError(t, err)
	require.Equal(t, []any{3.0, 6.0, nil}, col)
	typ, _ := total.ColumnType("total")
	require.Equal(t, Float, typ)

	sum, err := tbl.Derive("qty2", "qty", OpAdd, "n")
	require.NoError(t, err)
	col, _ = sum.Column("qty2")
	require.Equal(t, []any{int64(4), int64(3), nil}, col)

	div, err := tbl.Derive("ratio", "qty", OpDiv, "n")
	require.NoError(t, err)
	col, _ = div.Column("ratio")
	require.Equal(t, []any{1.0, nil, nil}, col)

	_, err = tbl.Derive("x", "qty", OpAdd, "s")
	require.ErrorIs(t, err, ErrSchema)
	_, err = tbl.Derive("x", "qty", OpAdd, "missing")
	require.ErrorIs(t, err, ErrColumnNotFound)
	_, err = tbl.Derive("x", "qty", Op("pow"), "n")
	require.ErrorIs(t, err, ErrUnknownOp)
}
