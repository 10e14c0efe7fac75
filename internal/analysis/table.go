package analysis

import (
	"fmt"
	"math"
	"strconv"

	"thresher/internal/backend"
)

// Table is the assembled result of one run: a row per surviving combination,
// in canonical enumeration order.
type Table struct {
	// SelectedColumns and ResultColumns fix the column layout of the table.
	SelectedColumns []string
	ResultColumns   []string

	Rows []Row

	// EstimatedCombinations is the enumerated total; SkippedCombinations
	// counts those whose evaluation failed.
	EstimatedCombinations int
	SkippedCombinations   int

	// ConfigHash fingerprints the request plus column types; identical runs
	// produce identical hashes.
	ConfigHash string
}

// Row is one combination's filtered, rounded result.
type Row struct {
	Ordinal int

	// Descriptions maps conditioned columns to their labels; unconditioned
	// selected columns are simply absent.
	Descriptions map[string]string

	MatchingRows int

	// Stats holds per-result-column statistics rounded to four decimals.
	Stats map[string]backend.ColumnStats

	// IDs is the rendered identifier sample, with an overflow suffix when the
	// sample is truncated.
	IDs string
}

// statSuffixes fixes the per-result-column output order.
var statSuffixes = []string{"Mean", "Median", "Std_Dev", "Min", "Max", "Sum", "Count", "Max_Run"}

// Header returns the flat column layout: one description column per selected
// column, the matching-row count, the statistics blocks, and the sample.
func (t *Table) Header() []string {
	out := make([]string, 0, len(t.SelectedColumns)+2+len(t.ResultColumns)*len(statSuffixes))
	out = append(out, t.SelectedColumns...)
	out = append(out, "Matching_Rows")
	for _, col := range t.ResultColumns {
		for _, s := range statSuffixes {
			out = append(out, col+"_"+s)
		}
	}
	return append(out, "IDs")
}

// Records renders every row as strings in Header order, ready for CSV output.
// Absent values (unconditioned columns, columns with no matching data, the
// standard deviation of a single value) render as empty cells.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make([]string, 0, len(t.SelectedColumns)+2+len(t.ResultColumns)*len(statSuffixes))
		for _, col := range t.SelectedColumns {
			rec = append(rec, row.Descriptions[col])
		}
		rec = append(rec, strconv.Itoa(row.MatchingRows))

		for _, col := range t.ResultColumns {
			st, ok := row.Stats[col]
			if !ok {
				for range statSuffixes {
					rec = append(rec, "")
				}
				continue
			}
			stddev := ""
			if st.HasStdDev {
				stddev = formatStat(st.StdDev)
			}
			rec = append(rec,
				formatStat(st.Mean),
				formatStat(st.Median),
				stddev,
				formatStat(st.Min),
				formatStat(st.Max),
				formatStat(st.Sum),
				strconv.Itoa(st.Count),
				strconv.Itoa(st.MaxRun),
			)
		}
		rec = append(rec, row.IDs)
		out = append(out, rec)
	}
	return out
}

func formatStat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// roundStats rounds every statistic to four decimals for presentation.
func roundStats(st backend.ColumnStats) backend.ColumnStats {
	st.Mean = round4(st.Mean)
	st.Sum = round4(st.Sum)
	st.Min = round4(st.Min)
	st.Max = round4(st.Max)
	st.Median = round4(st.Median)
	if st.HasStdDev {
		st.StdDev = round4(st.StdDev)
	}
	return st
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Summary is a one-line human description of the run outcome.
func (t *Table) Summary() string {
	return fmt.Sprintf("%d rows from %d combinations (%d skipped)",
		len(t.Rows), t.EstimatedCombinations, t.SkippedCombinations)
}
