package backend

import (
	"fmt"
	"strings"
	"time"

	"thresher/internal/frame"
	"thresher/internal/threshold"
)

// This file is the single variant→predicate compiler. It has two targets —
// an in-memory boolean mask and a parameterized SQL fragment — and both read
// the same boundary rules from the same switch arms: range divisions are
// [lo,hi) except the last, which closes the upper bound; before/after/on
// compare only the date part; since/until compare full timestamps; OR groups
// union their members. Changing a boundary rule here changes every backend
// at once.

// Mask compiles one variant into a boolean row mask over the snapshot.
// Null cells never match any predicate.
func Mask(snap *frame.Snapshot, v threshold.Variant) ([]bool, error) {
	col, ok := snap.Column(v.Column)
	if !ok {
		return nil, fmt.Errorf("backend: no column %q", v.Column)
	}

	n := snap.NumRows()
	out := make([]bool, n)

	switch v.Op {
	case threshold.OpGE, threshold.OpGT, threshold.OpLT, threshold.OpLE:
		if col.Kind != frame.Numeric {
			return nil, fmt.Errorf("backend: numeric predicate on %s column %q", col.Kind, v.Column)
		}
		for i := 0; i < n; i++ {
			if col.Null[i] {
				continue
			}
			out[i] = scalarMatch(v.Op, col.Nums[i], v.Value)
		}

	case threshold.OpRange:
		if col.Kind != frame.Numeric {
			return nil, fmt.Errorf("backend: range predicate on %s column %q", col.Kind, v.Column)
		}
		for i := 0; i < n; i++ {
			if col.Null[i] {
				continue
			}
			x := col.Nums[i]
			if v.LastRange {
				out[i] = x >= v.Lo && x <= v.Hi
			} else {
				out[i] = x >= v.Lo && x < v.Hi
			}
		}

	case threshold.OpOr:
		for _, sub := range v.Sub {
			m, err := Mask(snap, sub)
			if err != nil {
				return nil, err
			}
			for i := range out {
				out[i] = out[i] || m[i]
			}
		}

	case threshold.OpIn:
		if col.Kind != frame.Categorical {
			return nil, fmt.Errorf("backend: membership predicate on %s column %q", col.Kind, v.Column)
		}
		set := make(map[string]struct{}, len(v.Set))
		for _, s := range v.Set {
			set[s] = struct{}{}
		}
		for i := 0; i < n; i++ {
			if col.Null[i] {
				continue
			}
			_, out[i] = set[col.Strs[i]]
		}

	case threshold.OpDateRange, threshold.OpBefore, threshold.OpAfter, threshold.OpOn:
		if col.Kind != frame.Date {
			return nil, fmt.Errorf("backend: date predicate on %s column %q", col.Kind, v.Column)
		}
		for i := 0; i < n; i++ {
			if col.Null[i] {
				continue
			}
			d := frame.DateOnly(col.Times[i])
			switch v.Op {
			case threshold.OpDateRange:
				out[i] = !d.Before(v.TimeLo) && !d.After(v.TimeHi)
			case threshold.OpBefore:
				out[i] = d.Before(v.Time)
			case threshold.OpAfter:
				out[i] = d.After(v.Time)
			case threshold.OpOn:
				out[i] = d.Equal(v.Time)
			}
		}

	case threshold.OpSince, threshold.OpUntil:
		if col.Kind != frame.Date {
			return nil, fmt.Errorf("backend: date predicate on %s column %q", col.Kind, v.Column)
		}
		for i := 0; i < n; i++ {
			if col.Null[i] {
				continue
			}
			t := col.Times[i]
			if v.Op == threshold.OpSince {
				out[i] = !t.Before(v.Time)
			} else {
				out[i] = !t.After(v.Time)
			}
		}

	default:
		return nil, fmt.Errorf("backend: unsupported predicate op %d on column %q", int(v.Op), v.Column)
	}

	return out, nil
}

func scalarMatch(op threshold.Op, x, bound float64) bool {
	switch op {
	case threshold.OpGE:
		return x >= bound
	case threshold.OpGT:
		return x > bound
	case threshold.OpLT:
		return x < bound
	default: // OpLE
		return x <= bound
	}
}

// Dialect captures the small SQL-surface differences between the pushdown
// backends. Everything the compiler emits beyond these callbacks is common
// SQL (comparisons, IN lists, window functions, scalar subqueries).
type Dialect struct {
	// QuoteIdent quotes a column identifier.
	QuoteIdent func(string) string

	// Placeholder renders the n-th (1-based) bind placeholder.
	Placeholder func(n int) string

	// DateExpr wraps a column expression so it evaluates to its date part.
	DateExpr func(expr string) string

	// TimeArg converts a timestamp into the backend's bind representation.
	// dateOnly arguments are already truncated to UTC midnight.
	TimeArg func(t time.Time, dateOnly bool) any

	// TypeFor maps a column kind to the backend's column type.
	TypeFor func(k frame.Kind) string

	// SeqType and TextType are the column types for the ordinal and the
	// rendered-identifier columns of a loaded relation.
	SeqType  string
	TextType string

	// SampleSQL renders the bounded identifier-sample query.
	SampleSQL func(relation, where string, limit int) string
}

// argBuilder numbers placeholders sequentially across an entire statement,
// including repeated WHERE clauses inside scalar subqueries.
type argBuilder struct {
	d    Dialect
	n    int
	args []any
}

func (b *argBuilder) add(v any) string {
	b.n++
	b.args = append(b.args, v)
	return b.d.Placeholder(b.n)
}

// BuildWhere compiles a combination's conditions into one WHERE clause.
// Conditions are ANDed in combination order.
func BuildWhere(d Dialect, conds []threshold.Variant) (string, []any, error) {
	b := &argBuilder{d: d}
	clause, err := whereSQL(b, conds)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

func whereSQL(b *argBuilder, conds []threshold.Variant) (string, error) {
	if len(conds) == 0 {
		return "1=1", nil
	}
	parts := make([]string, 0, len(conds))
	for _, v := range conds {
		frag, err := variantSQL(b, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+frag+")")
	}
	return strings.Join(parts, " AND "), nil
}

func variantSQL(b *argBuilder, v threshold.Variant) (string, error) {
	qc := b.d.QuoteIdent(v.Column)

	switch v.Op {
	case threshold.OpGE:
		return fmt.Sprintf("%s >= %s", qc, b.add(v.Value)), nil
	case threshold.OpGT:
		return fmt.Sprintf("%s > %s", qc, b.add(v.Value)), nil
	case threshold.OpLT:
		return fmt.Sprintf("%s < %s", qc, b.add(v.Value)), nil
	case threshold.OpLE:
		return fmt.Sprintf("%s <= %s", qc, b.add(v.Value)), nil

	case threshold.OpRange:
		hiOp := "<"
		if v.LastRange {
			hiOp = "<="
		}
		return fmt.Sprintf("%s >= %s AND %s %s %s", qc, b.add(v.Lo), qc, hiOp, b.add(v.Hi)), nil

	case threshold.OpOr:
		parts := make([]string, 0, len(v.Sub))
		for _, sub := range v.Sub {
			frag, err := variantSQL(b, sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, frag)
		}
		return strings.Join(parts, " OR "), nil

	case threshold.OpIn:
		ph := make([]string, len(v.Set))
		for i, s := range v.Set {
			ph[i] = b.add(s)
		}
		return fmt.Sprintf("%s IN (%s)", qc, strings.Join(ph, ", ")), nil

	case threshold.OpDateRange:
		de := b.d.DateExpr(qc)
		return fmt.Sprintf(
			"%s >= %s AND %s <= %s",
			de, b.add(b.d.TimeArg(v.TimeLo, true)),
			de, b.add(b.d.TimeArg(v.TimeHi, true)),
		), nil
	case threshold.OpBefore:
		return fmt.Sprintf("%s < %s", b.d.DateExpr(qc), b.add(b.d.TimeArg(v.Time, true))), nil
	case threshold.OpAfter:
		return fmt.Sprintf("%s > %s", b.d.DateExpr(qc), b.add(b.d.TimeArg(v.Time, true))), nil
	case threshold.OpOn:
		return fmt.Sprintf("%s = %s", b.d.DateExpr(qc), b.add(b.d.TimeArg(v.Time, true))), nil

	case threshold.OpSince:
		return fmt.Sprintf("%s >= %s", qc, b.add(b.d.TimeArg(v.Time, false))), nil
	case threshold.OpUntil:
		return fmt.Sprintf("%s <= %s", qc, b.add(b.d.TimeArg(v.Time, false))), nil

	default:
		return "", fmt.Errorf("backend: unsupported predicate op %d on column %q", int(v.Op), v.Column)
	}
}
