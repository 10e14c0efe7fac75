// Package memory evaluates combinations directly against the in-process
// snapshot with boolean row masks. It is the reference backend: the SQL
// pushdown backends are expected to produce identical results for the same
// combination.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"thresher/internal/backend"
	"thresher/internal/combination"
	"thresher/internal/frame"
)

// Evaluator holds the snapshot. It is safe for concurrent Evaluate calls; the
// snapshot is never mutated.
type Evaluator struct {
	snap *frame.Snapshot
}

func New(snap *frame.Snapshot) *Evaluator {
	return &Evaluator{snap: snap}
}

func (e *Evaluator) Close() {}

// Evaluate computes one combination's matching rows, per-column statistics and
// identifier sample.
func (e *Evaluator) Evaluate(ctx context.Context, combo combination.Combination, req backend.Request) (backend.Result, error) {
	if err := ctx.Err(); err != nil {
		return backend.Result{}, err
	}

	mask, err := e.combinedMask(combo)
	if err != nil {
		return backend.Result{}, err
	}

	matching := 0
	for _, m := range mask {
		if m {
			matching++
		}
	}

	res := backend.Result{
		MatchingRows: matching,
		Stats:        make(map[string]backend.ColumnStats, len(req.ResultColumns)),
	}

	if err := e.sample(mask, req, &res); err != nil {
		return backend.Result{}, err
	}

	for _, col := range req.ResultColumns {
		st, ok, err := e.columnStats(mask, col)
		if err != nil {
			return backend.Result{}, err
		}
		if ok {
			res.Stats[col] = st
		}
	}
	return res, nil
}

// combinedMask ANDs the per-condition masks in combination order.
func (e *Evaluator) combinedMask(combo combination.Combination) ([]bool, error) {
	var mask []bool
	for _, v := range combo.Conditions {
		m, err := backend.Mask(e.snap, v)
		if err != nil {
			return nil, err
		}
		if mask == nil {
			mask = m
			continue
		}
		for i := range mask {
			mask[i] = mask[i] && m[i]
		}
	}
	if mask == nil {
		return nil, fmt.Errorf("memory: combination %d has no conditions", combo.Ordinal)
	}
	return mask, nil
}

// sample collects matching identifiers in original row order, up to the
// request's limit, and counts the overflow.
func (e *Evaluator) sample(mask []bool, req backend.Request, res *backend.Result) error {
	if _, ok := e.snap.Column(req.IDColumn); !ok {
		return fmt.Errorf("memory: identifier column %q not in snapshot", req.IDColumn)
	}

	limit := req.SampleLimitOrDefault()
	for row, m := range mask {
		if !m {
			continue
		}
		if len(res.SampleIDs) < limit {
			id, _ := e.snap.CellString(req.IDColumn, row)
			res.SampleIDs = append(res.SampleIDs, id)
		} else {
			res.SampleOverflow++
		}
	}
	return nil
}

// columnStats aggregates one result column over the matching rows, nulls
// excluded. ok is false when no non-null value matches.
func (e *Evaluator) columnStats(mask []bool, name string) (backend.ColumnStats, bool, error) {
	c, found := e.snap.Column(name)
	if !found {
		return backend.ColumnStats{}, false, fmt.Errorf("memory: result column %q not in snapshot", name)
	}
	if c.Kind != frame.Numeric {
		return backend.ColumnStats{}, false, fmt.Errorf("memory: result column %q is %s, not numeric", name, c.Kind)
	}

	// Matched non-null values in original row order; run-length analysis
	// depends on that order.
	var vals []float64
	for row, m := range mask {
		if m && !c.Null[row] {
			vals = append(vals, c.Nums[row])
		}
	}
	if len(vals) == 0 {
		return backend.ColumnStats{}, false, nil
	}

	st := backend.ColumnStats{
		Count:  len(vals),
		Min:    vals[0],
		Max:    vals[0],
		Median: median(vals),
		MaxRun: maxRun(vals),
	}
	for _, v := range vals {
		st.Sum += v
		if v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
	}
	st.Mean = st.Sum / float64(len(vals))

	if len(vals) >= 2 {
		var sq float64
		for _, v := range vals {
			d := v - st.Mean
			sq += d * d
		}
		st.StdDev = math.Sqrt(sq / float64(len(vals)-1))
		st.HasStdDev = true
	}
	return st, true, nil
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// maxRun is the longest streak of consecutive equal values.
func maxRun(vals []float64) int {
	best, run := 1, 1
	for i := 1; i < len(vals); i++ {
		if vals[i] == vals[i-1] {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
	}
	return best
}
