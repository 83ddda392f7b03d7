package table

import (
	"errors"
	"fmt"
	"strings"
)

// Op is a binary arithmetic operator used by derived columns.
type Op string

const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
)

// ErrUnknownOp is returned for operators other than add, sub, mul and div.
var ErrUnknownOp = errors.New("unknown operator")

// ParseOp accepts the operator names and their symbols (+ - * /).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "+":
		return OpAdd, nil
	case "sub", "-":
		return OpSub, nil
	case "mul", "*":
		return OpMul, nil
	case "div", "/":
		return OpDiv, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Derive returns a table with column name = left op right, appended or
// replacing an existing column. Both operands must be numeric. The result is
// Int when both operands are Int and op is not division, Float otherwise.
// A null operand or a division by zero yields null.
func (t *Table) Derive(name, left string, op Op, right string) (*Table, error) {
	lt, err := t.ColumnType(left)
	if err != nil {
		return nil, err
	}
	rt, err := t.ColumnType(right)
	if err != nil {
		return nil, err
	}
	if !lt.Numeric() || !rt.Numeric() {
		return nil, &SchemaError{Reason: fmt.Sprintf("derive %s: %s (%s) and %s (%s) must be numeric", name, left, lt, right, rt)}
	}
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	lv, _ := t.Column(left)
	rv, _ := t.Column(right)
	out := make([]any, len(lv))
	if lt == Int && rt == Int && op != OpDiv {
		for i := range lv {
			if lv[i] == nil || rv[i] == nil {
				continue
			}
			a, b := lv[i].(int64), rv[i].(int64)
			switch op {
			case OpAdd:
				out[i] = a + b
			case OpSub:
				out[i] = a - b
			case OpMul:
				out[i] = a * b
			}
		}
		return t.WithColumn(name, Int, out)
	}
	for i := range lv {
		if lv[i] == nil || rv[i] == nil {
			continue
		}
		a, b := toFloat(lv[i]), toFloat(rv[i])
		switch op {
		case OpAdd:
			out[i] = a + b
		case OpSub:
			out[i] = a - b
		case OpMul:
			out[i] = a * b
		case OpDiv:
			if b != 0 {
				out[i] = a / b
			}
		}
	}
	return t.WithColumn(name, Float, out)
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
