package backend

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	"thresher/internal/frame"
	"thresher/internal/threshold"
)

// Loaded relations carry two bookkeeping columns next to the data columns:
// SeqColumn preserves the original row order (ordering, run-length analysis)
// and RIDColumn stores the identifier cell's original text, so SQL samples
// are byte-identical to in-memory samples.
const (
	SeqColumn = "_seq"
	RIDColumn = "_rid"
)

// Statement is one renderable SQL statement with its bind arguments.
type Statement struct {
	SQL  string
	Args []any
}

// CreateRelationSQL renders the statements that (re)create the relation for a
// snapshot: a conditional drop followed by the typed create.
func CreateRelationSQL(d Dialect, relation string, snap *frame.Snapshot) []string {
	cols := []string{
		fmt.Sprintf("%s %s NOT NULL", d.QuoteIdent(SeqColumn), d.SeqType),
		fmt.Sprintf("%s %s", d.QuoteIdent(RIDColumn), d.TextType),
	}
	for _, name := range snap.ColumnNames() {
		c, _ := snap.Column(name)
		cols = append(cols, fmt.Sprintf("%s %s", d.QuoteIdent(name), d.TypeFor(c.Kind)))
	}

	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", relation),
		fmt.Sprintf("CREATE TABLE %s (%s)", relation, strings.Join(cols, ", ")),
	}
}

// InsertStatements renders multi-row inserts for the snapshot, batched so no
// statement exceeds maxParams bind parameters. The identifier column's raw
// text is copied into RIDColumn; its typed value is loaded like any other
// column.
func InsertStatements(d Dialect, relation string, snap *frame.Snapshot, idColumn string, maxParams int) ([]Statement, error) {
	if _, ok := snap.Column(idColumn); !ok {
		return nil, fmt.Errorf("backend: identifier column %q not in snapshot", idColumn)
	}
	if maxParams < 1 {
		return nil, fmt.Errorf("backend: maxParams must be positive, got %d", maxParams)
	}

	names := snap.ColumnNames()
	quoted := make([]string, 0, len(names)+2)
	quoted = append(quoted, d.QuoteIdent(SeqColumn), d.QuoteIdent(RIDColumn))
	for _, name := range names {
		quoted = append(quoted, d.QuoteIdent(name))
	}

	paramsPerRow := len(names) + 2
	rowsPerBatch := maxParams / paramsPerRow
	if rowsPerBatch < 1 {
		rowsPerBatch = 1
	}

	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", relation, strings.Join(quoted, ", "))

	var out []Statement
	nrows := snap.NumRows()
	for start := 0; start < nrows; start += rowsPerBatch {
		end := start + rowsPerBatch
		if end > nrows {
			end = nrows
		}

		b := &argBuilder{d: d}
		tuples := make([]string, 0, end-start)
		for row := start; row < end; row++ {
			ph := make([]string, 0, paramsPerRow)
			ph = append(ph, b.add(row))

			rid, _ := snap.CellString(idColumn, row)
			ph = append(ph, b.add(rid))

			for _, name := range names {
				c, _ := snap.Column(name)
				ph = append(ph, b.add(cellArg(d, c, row)))
			}
			tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
		}
		out = append(out, Statement{SQL: head + strings.Join(tuples, ", "), Args: b.args})
	}
	return out, nil
}

func cellArg(d Dialect, c *frame.Column, row int) any {
	if c.Null[row] {
		return nil
	}
	switch c.Kind {
	case frame.Numeric:
		return c.Nums[row]
	case frame.Date:
		return d.TimeArg(c.Times[row], false)
	default:
		return c.Strs[row]
	}
}

// AggregateQuery renders the single round trip that computes the matching-row
// count and every per-column statistic for one combination. Median and longest
// run come back from correlated scalar subqueries so no second pass over the
// relation is needed.
//
// The select list is, in scan order: COUNT(*), then for each result column
// AVG, SUM, COUNT, SUM(x*x), MIN, MAX, median, longest run. Standard deviation
// is derived from the moment sums on the Go side, so every dialect needs only
// plain aggregates and window functions.
func AggregateQuery(d Dialect, relation string, resultCols []string, conds []threshold.Variant) (string, []any, error) {
	b := &argBuilder{d: d}

	where, err := whereSQL(b, conds)
	if err != nil {
		return "", nil, err
	}

	sel := []string{"COUNT(*)"}
	for _, col := range resultCols {
		qc := d.QuoteIdent(col)
		sel = append(sel,
			fmt.Sprintf("AVG(%s)", qc),
			fmt.Sprintf("SUM(%s)", qc),
			fmt.Sprintf("COUNT(%s)", qc),
			fmt.Sprintf("SUM(%s * %s)", qc, qc),
			fmt.Sprintf("MIN(%s)", qc),
			fmt.Sprintf("MAX(%s)", qc),
		)

		medianWhere, err := whereSQL(b, conds)
		if err != nil {
			return "", nil, err
		}
		sel = append(sel, fmt.Sprintf(
			"(SELECT AVG(m.v) FROM ("+
				"SELECT %[1]s AS v, ROW_NUMBER() OVER (ORDER BY %[1]s) AS rn, COUNT(*) OVER () AS n "+
				"FROM %[2]s WHERE (%[3]s) AND %[1]s IS NOT NULL"+
				") AS m WHERE m.rn IN ((m.n + 1) / 2, (m.n + 2) / 2))",
			qc, relation, medianWhere,
		))

		runWhere, err := whereSQL(b, conds)
		if err != nil {
			return "", nil, err
		}
		qseq := d.QuoteIdent(SeqColumn)
		sel = append(sel, fmt.Sprintf(
			"(SELECT MAX(r.len) FROM ("+
				"SELECT COUNT(*) AS len FROM ("+
				"SELECT %[1]s AS v, "+
				"ROW_NUMBER() OVER (ORDER BY %[4]s) - ROW_NUMBER() OVER (PARTITION BY %[1]s ORDER BY %[4]s) AS grp "+
				"FROM %[2]s WHERE (%[3]s) AND %[1]s IS NOT NULL"+
				") AS s GROUP BY s.v, s.grp"+
				") AS r)",
			qc, relation, runWhere, qseq,
		))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(sel, ", "), relation, where)
	return query, b.args, nil
}

// SampleQuery renders the bounded identifier-sample query for one combination.
// Overflow is derived from the matching-row count, so the query fetches exactly
// the limit.
func SampleQuery(d Dialect, relation string, conds []threshold.Variant, limit int) (string, []any, error) {
	where, args, err := BuildWhere(d, conds)
	if err != nil {
		return "", nil, err
	}
	return d.SampleSQL(relation, where, limit), args, nil
}

// AggScan receives one AggregateQuery row and assembles the backend result.
type AggScan struct {
	matching int64

	avg    []sql.NullFloat64
	sum    []sql.NullFloat64
	count  []sql.NullInt64
	sumSq  []sql.NullFloat64
	min    []sql.NullFloat64
	max    []sql.NullFloat64
	median []sql.NullFloat64
	maxRun []sql.NullInt64
}

// NewAggScan sizes a scanner for the given number of result columns.
func NewAggScan(ncols int) *AggScan {
	return &AggScan{
		avg:    make([]sql.NullFloat64, ncols),
		sum:    make([]sql.NullFloat64, ncols),
		count:  make([]sql.NullInt64, ncols),
		sumSq:  make([]sql.NullFloat64, ncols),
		min:    make([]sql.NullFloat64, ncols),
		max:    make([]sql.NullFloat64, ncols),
		median: make([]sql.NullFloat64, ncols),
		maxRun: make([]sql.NullInt64, ncols),
	}
}

// Dest returns the scan destinations in AggregateQuery's select order.
func (s *AggScan) Dest() []any {
	out := make([]any, 0, 1+8*len(s.avg))
	out = append(out, &s.matching)
	for i := range s.avg {
		out = append(out,
			&s.avg[i], &s.sum[i], &s.count[i], &s.sumSq[i],
			&s.min[i], &s.max[i], &s.median[i], &s.maxRun[i],
		)
	}
	return out
}

// Result assembles the scanned aggregates into a backend Result. Columns with
// no non-null matching values are omitted from the stats map.
func (s *AggScan) Result(resultCols []string) Result {
	res := Result{
		MatchingRows: int(s.matching),
		Stats:        make(map[string]ColumnStats, len(resultCols)),
	}
	for i, col := range resultCols {
		n := s.count[i].Int64
		if n == 0 {
			continue
		}

		st := ColumnStats{
			Count:  int(n),
			Mean:   s.avg[i].Float64,
			Sum:    s.sum[i].Float64,
			Min:    s.min[i].Float64,
			Max:    s.max[i].Float64,
			Median: s.median[i].Float64,
			MaxRun: int(s.maxRun[i].Int64),
		}
		if n >= 2 {
			st.StdDev = sampleStdDev(n, s.sum[i].Float64, s.sumSq[i].Float64)
			st.HasStdDev = true
		}
		res.Stats[col] = st
	}
	return res
}

// sampleStdDev derives the n-1 standard deviation from the moment sums.
// Floating-point cancellation can push the variance a hair below zero; clamp
// rather than return NaN.
func sampleStdDev(n int64, sum, sumSq float64) float64 {
	variance := (sumSq - sum*sum/float64(n)) / float64(n-1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
