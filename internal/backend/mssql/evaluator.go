// Package mssql is the SQL Server query-pushdown backend.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"thresher/internal/backend"
	"thresher/internal/combination"
	"thresher/internal/frame"
)

// maxBindParams stays under SQL Server's 2100-parameter statement limit.
const maxBindParams = 2000

func init() {
	backend.Register("mssql", New)
}

type Evaluator struct {
	db       *sql.DB
	relation string
}

func New(ctx context.Context, cfg backend.Config) (backend.Evaluator, error) {
	if strings.TrimSpace(cfg.Relation) == "" {
		return nil, fmt.Errorf("mssql: missing relation name")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
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
	QuoteIdent:  msIdent,
	Placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	DateExpr:    func(expr string) string { return "CAST(" + expr + " AS date)" },
	TimeArg:     func(t time.Time, dateOnly bool) any { return t.UTC() },
	TypeFor: func(k frame.Kind) string {
		switch k {
		case frame.Numeric:
			return "FLOAT"
		case frame.Date:
			return "DATETIME2"
		default:
			return "NVARCHAR(400)"
		}
	},
	SeqType:  "BIGINT",
	TextType: "NVARCHAR(400)",
	SampleSQL: func(relation, where string, limit int) string {
		return fmt.Sprintf(
			"SELECT TOP (%d) %s FROM %s WHERE %s ORDER BY %s",
			limit, msIdent(backend.RIDColumn), relation, where, msIdent(backend.SeqColumn),
		)
	},
}

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func (e *Evaluator) LoadSnapshot(ctx context.Context, snap *frame.Snapshot, idColumn string) error {
	for _, ddl := range backend.CreateRelationSQL(dialect, e.relation, snap) {
		if _, err := e.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create relation %s: %w", e.relation, err)
		}
	}

	stmts, err := backend.InsertStatements(dialect, e.relation, snap, idColumn, maxBindParams)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if _, err := e.db.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("mssql: load relation %s: %w", e.relation, err)
		}
	}
	return nil
}

func (e *Evaluator) Evaluate(ctx context.Context, combo combination.Combination, req backend.Request) (backend.Result, error) {
	query, args, err := backend.AggregateQuery(dialect, e.relation, req.ResultColumns, combo.Conditions)
	if err != nil {
		return backend.Result{}, err
	}

	scan := backend.NewAggScan(len(req.ResultColumns))
	if err := e.db.QueryRowContext(ctx, query, args...).Scan(scan.Dest()...); err != nil {
		return backend.Result{}, fmt.Errorf("mssql: aggregate combination %d: %w", combo.Ordinal, err)
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
		return nil, fmt.Errorf("mssql: sample combination %d: %w", combo.Ordinal, err)
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
