// Package analysis orchestrates a full threshold-analysis run: expand column
// configurations into condition variants, enumerate subset-product
// combinations under the budget, evaluate them against a backend, and
// assemble the filtered result table.
package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"thresher/internal/backend"
	"thresher/internal/combination"
	"thresher/internal/describe"
	"thresher/internal/frame"
	"thresher/internal/metrics"
	"thresher/internal/threshold"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Request describes one analysis run.
type Request struct {
	// SelectedColumns are the condition columns, in enumeration order.
	SelectedColumns []string

	// Thresholds maps each selected column to its configuration.
	Thresholds map[string]threshold.Config

	// IDColumn names the identifier column sampled into each result row.
	IDColumn string

	// ResultColumns are the numeric columns statistics are computed for.
	ResultColumns []string

	// MinMatchingRows drops result rows with fewer matching rows. Zero or
	// negative keeps everything.
	MinMatchingRows int

	// SampleLimit caps the identifier sample per row; 0 uses the backend
	// default.
	SampleLimit int
}

// Runner executes analysis runs against one evaluator.
type Runner struct {
	Evaluator backend.Evaluator
	Logger    Logger

	// Workers is the evaluation concurrency; values below 1 run serially.
	Workers int

	// CombinationCap overrides the enumeration budget; 0 uses the default.
	CombinationCap int
}

func (r *Runner) logger() func(format string, v ...any) {
	if r.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return r.Logger.Printf
}

// Run executes the request and returns the result table. Combinations whose
// evaluation fails are skipped and counted; validation and budget violations
// abort the run before any evaluation happens.
func (r *Runner) Run(ctx context.Context, snap *frame.Snapshot, req Request) (*Table, error) {
	if r.Evaluator == nil {
		return nil, fmt.Errorf("analysis: Evaluator is required")
	}
	logf := r.logger()

	if err := validateRequest(snap, req); err != nil {
		return nil, err
	}

	sets, err := expandSets(snap, req)
	if err != nil {
		return nil, err
	}

	budget := r.CombinationCap
	if budget <= 0 {
		budget = threshold.DefaultCombinationCap
	}
	counts := make([]threshold.ColumnCount, len(sets))
	for i, s := range sets {
		counts[i] = threshold.ColumnCount{Column: s.Column, Variants: len(s.Variants)}
	}
	if err := threshold.CheckBudget(budget, counts); err != nil {
		return nil, err
	}
	total := combination.Count(sets)

	logf("stage=plan columns=%d combinations=%d cap=%d", len(sets), total, budget)
	metrics.ObserveHistogram("analysis.plan.combinations", float64(total), nil)

	combos := make([]combination.Combination, 0, total)
	if err := combination.Enumerate(sets, func(c combination.Combination) error {
		combos = append(combos, c)
		return nil
	}); err != nil {
		return nil, err
	}

	evalStart := time.Now()
	results, skipped, err := r.evaluateAll(ctx, combos, backend.Request{
		IDColumn:      req.IDColumn,
		ResultColumns: req.ResultColumns,
		SampleLimit:   req.SampleLimit,
	}, logf)
	if err != nil {
		return nil, err
	}
	logf("stage=evaluate combinations=%d skipped=%d duration=%s",
		total, skipped, time.Since(evalStart).Truncate(time.Millisecond))
	metrics.IncCounter("analysis.combinations.evaluated", float64(total-skipped), nil)
	if skipped > 0 {
		metrics.IncCounter("analysis.combinations.skipped", float64(skipped), nil)
	}

	hash, err := ConfigHash(req, snap.ColumnTypes())
	if err != nil {
		return nil, err
	}

	table := r.assemble(req, combos, results, skipped, total, hash)
	logf("stage=assemble rows=%d filtered_out=%d", len(table.Rows), total-skipped-len(table.Rows))
	return table, nil
}

// evalOutcome pairs a combination slot with its evaluation state so results
// reassemble in ordinal order regardless of worker interleaving.
type evalOutcome struct {
	res     backend.Result
	ok      bool
	skipped bool
}

func (r *Runner) evaluateAll(
	ctx context.Context,
	combos []combination.Combination,
	req backend.Request,
	logf func(format string, v ...any),
) ([]evalOutcome, int, error) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(combos) {
		workers = len(combos)
	}

	// Cancellation model: any fatal error cancels the derived context; later
	// workers drain their jobs without evaluating. First error wins.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		if err == nil {
			return
		}
		select {
		case errCh <- err:
			cancel(err)
		default:
		}
	}

	results := make([]evalOutcome, len(combos))
	jobs := make(chan combination.Combination, workers*2)

	var mu sync.Mutex
	skipped := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for c := range jobs {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				res, err := r.Evaluator.Evaluate(ctx, c, req)
				if err != nil {
					if ctx.Err() != nil {
						setErr(context.Cause(ctx))
						continue
					}
					// A single bad combination does not abort the run.
					logf("stage=evaluate combination=%d status=skipped err=%v", c.Ordinal, err)
					mu.Lock()
					skipped++
					results[c.Ordinal] = evalOutcome{skipped: true}
					mu.Unlock()
					continue
				}
				results[c.Ordinal] = evalOutcome{res: res, ok: true}
			}
		}()
	}

	for _, c := range combos {
		select {
		case jobs <- c:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, 0, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, context.Cause(ctx)
	}
	return results, skipped, nil
}

func (r *Runner) assemble(
	req Request,
	combos []combination.Combination,
	results []evalOutcome,
	skipped, total int,
	hash string,
) *Table {
	table := &Table{
		SelectedColumns:       append([]string(nil), req.SelectedColumns...),
		ResultColumns:         append([]string(nil), req.ResultColumns...),
		EstimatedCombinations: total,
		SkippedCombinations:   skipped,
		ConfigHash:            hash,
	}

	for i, out := range results {
		if !out.ok {
			continue
		}
		if req.MinMatchingRows > 0 && out.res.MatchingRows < req.MinMatchingRows {
			continue
		}
		table.Rows = append(table.Rows, buildRow(combos[i], out.res))
	}
	return table
}

func buildRow(c combination.Combination, res backend.Result) Row {
	row := Row{
		Ordinal:      c.Ordinal,
		Descriptions: make(map[string]string, len(c.Conditions)),
		MatchingRows: res.MatchingRows,
		Stats:        make(map[string]backend.ColumnStats, len(res.Stats)),
		IDs:          formatIDs(res.SampleIDs, res.SampleOverflow),
	}
	for _, v := range c.Conditions {
		row.Descriptions[v.Column] = describe.Variant(v)
	}
	for col, st := range res.Stats {
		row.Stats[col] = roundStats(st)
	}
	return row
}

func formatIDs(ids []string, overflow int) string {
	s := strings.Join(ids, ", ")
	if overflow > 0 {
		s += fmt.Sprintf(" ... (%d more)", overflow)
	}
	return s
}

func validateRequest(snap *frame.Snapshot, req Request) error {
	if len(req.SelectedColumns) == 0 {
		return fmt.Errorf("analysis: no selected columns")
	}
	if strings.TrimSpace(req.IDColumn) == "" {
		return fmt.Errorf("analysis: missing identifier column")
	}
	if _, ok := snap.Column(req.IDColumn); !ok {
		return fmt.Errorf("analysis: identifier column %q not in data", req.IDColumn)
	}

	seen := make(map[string]struct{}, len(req.SelectedColumns))
	for _, col := range req.SelectedColumns {
		if _, dup := seen[col]; dup {
			return fmt.Errorf("analysis: column %q selected twice", col)
		}
		seen[col] = struct{}{}
		if _, ok := snap.Column(col); !ok {
			return fmt.Errorf("analysis: selected column %q not in data", col)
		}
		if _, ok := req.Thresholds[col]; !ok {
			return fmt.Errorf("analysis: selected column %q has no threshold config", col)
		}
	}

	for _, col := range req.ResultColumns {
		kind, ok := snap.KindOf(col)
		if !ok {
			return fmt.Errorf("analysis: result column %q not in data", col)
		}
		if kind != frame.Numeric {
			return fmt.Errorf("analysis: result column %q is %s, statistics need a numeric column", col, kind)
		}
	}
	return nil
}

func expandSets(snap *frame.Snapshot, req Request) ([]threshold.VariantSet, error) {
	sets := make([]threshold.VariantSet, 0, len(req.SelectedColumns))
	for _, col := range req.SelectedColumns {
		set, err := threshold.Expand(snap, col, req.Thresholds[col])
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
