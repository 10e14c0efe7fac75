// Package sqlite is the SQLite query-pushdown backend.
//
// Timestamps are stored as TEXT in "2006-01-02 15:04:05" form. That keeps
// date-part extraction (date(col)) and full-timestamp comparison working as
// plain string operations, which is the reliable way to handle time with
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"thresher/internal/backend"
	"thresher/internal/combination"
	"thresher/internal/frame"
)

// maxBindParams stays under SQLite's historical 999-variable statement limit.
const maxBindParams = 999

func init() {
	backend.Register("sqlite", New)
}

type Evaluator struct {
	db       *sql.DB
	relation string
}

func New(ctx context.Context, cfg backend.Config) (backend.Evaluator, error) {
	if strings.TrimSpace(cfg.Relation) == "" {
		return nil, fmt.Errorf("sqlite: missing relation name")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Evaluator{db: db, relation: cfg.Relation}, nil
}

func (e *Evaluator) Close() { _ = e.db.Close() }

var dialect = backend.Dialect{
	QuoteIdent:  sqlIdent,
	Placeholder: func(int) string { return "?" },
	DateExpr:    func(expr string) string { return "date(" + expr + ")" },
	TimeArg: func(t time.Time, dateOnly bool) any {
		if dateOnly {
			return t.UTC().Format("2006-01-02")
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	},
	TypeFor: func(k frame.Kind) string {
		if k == frame.Numeric {
			return "REAL"
		}
		return "TEXT"
	},
	SeqType:  "INTEGER",
	TextType: "TEXT",
	SampleSQL: func(relation, where string, limit int) string {
		return fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d",
			sqlIdent(backend.RIDColumn), relation, where, sqlIdent(backend.SeqColumn), limit,
		)
	},
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// LoadSnapshot drops and recreates the relation, then bulk-inserts the
// snapshot in batches.
func (e *Evaluator) LoadSnapshot(ctx context.Context, snap *frame.Snapshot, idColumn string) error {
	for _, ddl := range backend.CreateRelationSQL(dialect, e.relation, snap) {
		if _, err := e.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create relation %s: %w", e.relation, err)
		}
	}

	stmts, err := backend.InsertStatements(dialect, e.relation, snap, idColumn, maxBindParams)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if _, err := e.db.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("sqlite: load relation %s: %w", e.relation, err)
		}
	}
	return nil
}

// Evaluate runs one aggregate round trip and one bounded sample query.
func (e *Evaluator) Evaluate(ctx context.Context, combo combination.Combination, req backend.Request) (backend.Result, error) {
	query, args, err := backend.AggregateQuery(dialect, e.relation, req.ResultColumns, combo.Conditions)
	if err != nil {
		return backend.Result{}, err
	}

	scan := backend.NewAggScan(len(req.ResultColumns))
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(scan.Dest()...); err != nil {
		return backend.Result{}, fmt.Errorf("sqlite: aggregate combination %d: %w", combo.Ordinal, err)
	}
	res := scan.Result(req.ResultColumns)

	ids, err := e.sampleIDs(ctx, combo, req.SampleLimitOrDefault())
	if err != nil {
		return backend.Result{}, err
	}
	res.SampleIDs = ids
	if over := res.MatchingRows - len(ids); over > 0 {
		res.SampleOverflow = over
	}
	return res, nil
}

func (e *Evaluator) sampleIDs(ctx context.Context, combo combination.Combination, limit int) ([]string, error) {
	query, args, err := backend.SampleQuery(dialect, e.relation, combo.Conditions, limit)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sample combination %d: %w", combo.Ordinal, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id.String)
	}
	return out, rows.Err()
}
