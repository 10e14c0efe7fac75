package analysis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"thresher/internal/backend"
	"thresher/internal/backend/memory"
	"thresher/internal/combination"
	"thresher/internal/frame"
	"thresher/internal/threshold"
)

func buildSnapshot(t *testing.T, cols map[string][]string, kinds map[string]frame.Kind, order []string) *frame.Snapshot {
	t.Helper()
	built := make([]frame.Column, 0, len(order))
	for _, name := range order {
		c, err := frame.BuildColumn(name, kinds[name], cols[name])
		if err != nil {
			t.Fatalf("build column %s: %v", name, err)
		}
		built = append(built, c)
	}
	snap, err := frame.New(built)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	return snap
}

// scoreSnapshot holds scores 1..n with ids r1..rn and alternating cities.
func scoreSnapshot(t *testing.T, n int) *frame.Snapshot {
	t.Helper()
	ids := make([]string, n)
	scores := make([]string, n)
	cities := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("r%d", i+1)
		scores[i] = strconv.Itoa(i + 1)
		if i%2 == 0 {
			cities[i] = "east"
		} else {
			cities[i] = "west"
		}
	}
	return buildSnapshot(t,
		map[string][]string{"id": ids, "score": scores, "city": cities},
		map[string]frame.Kind{"id": frame.Categorical, "score": frame.Numeric, "city": frame.Categorical},
		[]string{"id", "score", "city"},
	)
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestRun_RangeDivisions(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{Evaluator: memory.New(snap)}

	table, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeRange, Ranges: []threshold.NumericRange{
				{Start: 1, End: 5.5},
				{Start: 5.5, End: 10},
			}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if table.EstimatedCombinations != 2 {
		t.Fatalf("estimated combinations = %d, want 2", table.EstimatedCombinations)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}

	first := table.Rows[0]
	if got := first.Descriptions["score"]; got != "score: [1.00 to 5.50)" {
		t.Fatalf("first description = %q", got)
	}
	if first.MatchingRows != 5 {
		t.Fatalf("first matching rows = %d, want 5", first.MatchingRows)
	}
	st := first.Stats["score"]
	approx(t, "mean", st.Mean, 3)
	approx(t, "median", st.Median, 3)
	approx(t, "sum", st.Sum, 15)
	approx(t, "min", st.Min, 1)
	approx(t, "max", st.Max, 5)
	if st.Count != 5 {
		t.Fatalf("count = %d, want 5", st.Count)
	}
	if first.IDs != "r1, r2, r3, r4, r5" {
		t.Fatalf("first IDs = %q", first.IDs)
	}

	second := table.Rows[1]
	if got := second.Descriptions["score"]; got != "score: [5.50 to 10.00]" {
		t.Fatalf("second description = %q", got)
	}
	if second.MatchingRows != 5 {
		t.Fatalf("second matching rows = %d, want 5", second.MatchingRows)
	}
	approx(t, "second sum", second.Stats["score"].Sum, 40)
}

func TestRun_TwoColumnEnumeration(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{Evaluator: memory.New(snap)}

	mean := 5.5
	table, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score", "city"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeMean, Value: &mean},
			"city": {Type: threshold.TypeCategorical, ValueGroups: [][]string{
				{"east"}, {"west"},
			}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Subsets in increasing size: {score} (2), {city} (2), {score,city} (4).
	if table.EstimatedCombinations != 8 {
		t.Fatalf("estimated combinations = %d, want 8", table.EstimatedCombinations)
	}
	if len(table.Rows) != 8 {
		t.Fatalf("rows = %d, want 8", len(table.Rows))
	}

	if d := table.Rows[0].Descriptions; len(d) != 1 || d["score"] != "score >= 5.50" {
		t.Fatalf("row 0 descriptions = %v", d)
	}
	if d := table.Rows[2].Descriptions; len(d) != 1 || d["city"] != "city = east" {
		t.Fatalf("row 2 descriptions = %v", d)
	}

	// First two-column combination: score >= mean AND city = east, rows 6,8,10... no:
	// scores >= 5.5 are 6..10, east rows are odd scores, so 7 and 9 match.
	pair := table.Rows[4]
	if len(pair.Descriptions) != 2 {
		t.Fatalf("row 4 descriptions = %v", pair.Descriptions)
	}
	if pair.Descriptions["score"] != "score >= 5.50" || pair.Descriptions["city"] != "city = east" {
		t.Fatalf("row 4 descriptions = %v", pair.Descriptions)
	}
	if pair.MatchingRows != 2 {
		t.Fatalf("row 4 matching rows = %d, want 2", pair.MatchingRows)
	}
	if pair.IDs != "r7, r9" {
		t.Fatalf("row 4 IDs = %q", pair.IDs)
	}

	// Ordinals stay in enumeration order after assembly.
	for i, row := range table.Rows {
		if row.Ordinal != i {
			t.Fatalf("row %d has ordinal %d", i, row.Ordinal)
		}
	}
}

func TestRun_OrGroupAddsCombinedVariant(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{Evaluator: memory.New(snap)}

	table, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeOrGroup, Conditions: []threshold.OrCondition{
				{Operator: "<", Value: 3},
				{Operator: ">", Value: 8},
			}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Two individual conditions plus the OR of both.
	if len(table.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(table.Rows))
	}
	last := table.Rows[2]
	if got := last.Descriptions["score"]; got != "(score < 3.00 OR score > 8.00)" {
		t.Fatalf("or description = %q", got)
	}
	if last.MatchingRows != 4 { // 1, 2, 9, 10
		t.Fatalf("or matching rows = %d, want 4", last.MatchingRows)
	}
}

func TestRun_MinMatchingRowsFilters(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{Evaluator: memory.New(snap)}

	table, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeRange, Ranges: []threshold.NumericRange{
				{Start: 1, End: 3},  // scores 1, 2
				{Start: 3, End: 10}, // scores 3..10
			}},
		},
		IDColumn:        "id",
		ResultColumns:   []string{"score"},
		MinMatchingRows: 5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if table.EstimatedCombinations != 2 {
		t.Fatalf("estimated combinations = %d, want 2", table.EstimatedCombinations)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(table.Rows))
	}
	if table.Rows[0].MatchingRows != 8 {
		t.Fatalf("surviving row matches %d rows", table.Rows[0].MatchingRows)
	}
}

// failingEvaluator fails specific ordinals and answers the rest with a fixed
// result.
type failingEvaluator struct {
	fail map[int]bool
}

func (f *failingEvaluator) Evaluate(_ context.Context, c combination.Combination, _ backend.Request) (backend.Result, error) {
	if f.fail[c.Ordinal] {
		return backend.Result{}, fmt.Errorf("combination %d is cursed", c.Ordinal)
	}
	return backend.Result{MatchingRows: 1, SampleIDs: []string{"r1"}}, nil
}

func (f *failingEvaluator) Close() {}

func TestRun_SkipsFailingCombinations(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{
		Evaluator: &failingEvaluator{fail: map[int]bool{1: true}},
		Workers:   4,
	}

	table, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeGreaterThan, Values: []float64{2, 4, 6}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if table.SkippedCombinations != 1 {
		t.Fatalf("skipped = %d, want 1", table.SkippedCombinations)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(table.Rows))
	}
	for _, row := range table.Rows {
		if row.Ordinal == 1 {
			t.Fatalf("skipped ordinal 1 appeared in the table")
		}
	}
}

func TestRun_CombinationCap(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	runner := &Runner{Evaluator: memory.New(snap), CombinationCap: 2}

	_, err := runner.Run(context.Background(), snap, Request{
		SelectedColumns: []string{"score"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeGreaterThan, Values: []float64{1, 2, 3}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	})
	if err == nil {
		t.Fatalf("expected budget error for 3 combinations under cap 2")
	}
}

func TestRun_ValidationErrors(t *testing.T) {
	snap := scoreSnapshot(t, 4)
	mean := 2.0
	valid := Request{
		SelectedColumns: []string{"score"},
		Thresholds:      map[string]threshold.Config{"score": {Type: threshold.TypeMean, Value: &mean}},
		IDColumn:        "id",
		ResultColumns:   []string{"score"},
	}

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"no selected columns", func(r *Request) { r.SelectedColumns = nil }},
		{"missing id column", func(r *Request) { r.IDColumn = "" }},
		{"unknown id column", func(r *Request) { r.IDColumn = "nope" }},
		{"unknown selected column", func(r *Request) { r.SelectedColumns = []string{"nope"} }},
		{"duplicate selected column", func(r *Request) { r.SelectedColumns = []string{"score", "score"} }},
		{"missing threshold config", func(r *Request) { r.Thresholds = nil }},
		{"unknown result column", func(r *Request) { r.ResultColumns = []string{"nope"} }},
		{"non-numeric result column", func(r *Request) { r.ResultColumns = []string{"city"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			runner := &Runner{Evaluator: memory.New(snap)}
			if _, err := runner.Run(context.Background(), snap, req); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigHash_Stability(t *testing.T) {
	snap := scoreSnapshot(t, 4)
	mean := 2.0
	req := Request{
		SelectedColumns: []string{"score", "city"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeMean, Value: &mean},
			"city":  {Type: threshold.TypeCategoricalAll},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	}

	h1, err := ConfigHash(req, snap.ColumnTypes())
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	h2, err := ConfigHash(req, snap.ColumnTypes())
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}

	// Column order fixes the table layout and row order, so reordering the
	// selected columns is a different run and must hash differently.
	reordered := req
	reordered.SelectedColumns = []string{"city", "score"}
	h3, err := ConfigHash(reordered, snap.ColumnTypes())
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("reordered selected columns kept the same hash")
	}

	changed := req
	changed.MinMatchingRows = 10
	h4, err := ConfigHash(changed, snap.ColumnTypes())
	if err != nil {
		t.Fatalf("ConfigHash: %v", err)
	}
	if h4 == h1 {
		t.Fatalf("changed request kept the same hash")
	}
}

// Requests that render different tables must never share a hash: a history
// cache hit would otherwise serve one request's stored preview for the other.
func TestConfigHash_DistinguishesColumnOrder(t *testing.T) {
	snap := scoreSnapshot(t, 10)
	mean := 5.5
	base := Request{
		SelectedColumns: []string{"score", "city"},
		Thresholds: map[string]threshold.Config{
			"score": {Type: threshold.TypeMean, Value: &mean},
			"city": {Type: threshold.TypeCategorical, ValueGroups: [][]string{
				{"east"}, {"west"},
			}},
		},
		IDColumn:      "id",
		ResultColumns: []string{"score"},
	}
	swapped := base
	swapped.SelectedColumns = []string{"city", "score"}

	runner := &Runner{Evaluator: memory.New(snap)}
	t1, err := runner.Run(context.Background(), snap, base)
	if err != nil {
		t.Fatalf("Run base: %v", err)
	}
	t2, err := runner.Run(context.Background(), snap, swapped)
	if err != nil {
		t.Fatalf("Run swapped: %v", err)
	}

	if strings.Join(t1.Header(), "|") == strings.Join(t2.Header(), "|") {
		t.Fatalf("swapped selected columns produced the same header")
	}
	if t1.ConfigHash == t2.ConfigHash {
		t.Fatalf("tables differ but share config hash %s", t1.ConfigHash)
	}
}

func TestTable_HeaderAndRecords(t *testing.T) {
	table := &Table{
		SelectedColumns: []string{"score", "city"},
		ResultColumns:   []string{"amount"},
		Rows: []Row{
			{
				Descriptions: map[string]string{"score": "score >= 5.50"},
				MatchingRows: 3,
				Stats: map[string]backend.ColumnStats{
					"amount": {Count: 3, Mean: 2.5, Median: 2, Sum: 7.5, Min: 1, Max: 4, StdDev: 1.5, HasStdDev: true, MaxRun: 2},
				},
				IDs: "a, b, c",
			},
			{
				Descriptions: map[string]string{"city": "city = east"},
				MatchingRows: 1,
				Stats:        map[string]backend.ColumnStats{},
				IDs:          "a",
			},
		},
	}

	header := table.Header()
	want := []string{
		"score", "city", "Matching_Rows",
		"amount_Mean", "amount_Median", "amount_Std_Dev", "amount_Min",
		"amount_Max", "amount_Sum", "amount_Count", "amount_Max_Run",
		"IDs",
	}
	if strings.Join(header, "|") != strings.Join(want, "|") {
		t.Fatalf("header = %v", header)
	}

	recs := table.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	first := recs[0]
	if len(first) != len(header) {
		t.Fatalf("record width %d, header width %d", len(first), len(header))
	}
	if first[0] != "score >= 5.50" || first[1] != "" {
		t.Fatalf("description cells = %q, %q", first[0], first[1])
	}
	if first[2] != "3" || first[3] != "2.5" || first[9] != "3" {
		t.Fatalf("stat cells = %v", first)
	}

	// A row without stats renders empty stat cells.
	second := recs[1]
	for i := 3; i < len(second)-1; i++ {
		if second[i] != "" {
			t.Fatalf("cell %d = %q, want empty", i, second[i])
		}
	}
}

func TestRoundStats(t *testing.T) {
	st := roundStats(backend.ColumnStats{
		Mean:      1.00016,
		Median:    2.33333,
		Sum:       3.141592,
		Min:       0.00004,
		Max:       9.99999,
		StdDev:    1.23456,
		HasStdDev: true,
	})
	approx(t, "mean", st.Mean, 1.0002)
	approx(t, "median", st.Median, 2.3333)
	approx(t, "sum", st.Sum, 3.1416)
	approx(t, "min", st.Min, 0)
	approx(t, "max", st.Max, 10)
	approx(t, "stddev", st.StdDev, 1.2346)
}

func TestFormatIDs(t *testing.T) {
	if got := formatIDs([]string{"a", "b"}, 0); got != "a, b" {
		t.Fatalf("formatIDs = %q", got)
	}
	if got := formatIDs([]string{"a", "b"}, 3); got != "a, b ... (3 more)" {
		t.Fatalf("formatIDs with overflow = %q", got)
	}
	if got := formatIDs(nil, 0); got != "" {
		t.Fatalf("formatIDs empty = %q", got)
	}
}
