// Package postgres is the Postgres query-pushdown backend, built on pgx
// connection pools.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"thresher/internal/backend"
	"thresher/internal/combination"
	"thresher/internal/frame"
)

// maxBindParams keeps every generated statement well under the extended
// protocol's 65535-parameter ceiling.
const maxBindParams = 32000

func init() {
	backend.Register("postgres", New)
}

type Evaluator struct {
	pool     *pgxpool.Pool
	relation string
}

func New(ctx context.Context, cfg backend.Config) (backend.Evaluator, error) {
	if strings.TrimSpace(cfg.Relation) == "" {
		return nil, fmt.Errorf("postgres: missing relation name")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Evaluator{pool: pool, relation: cfg.Relation}, nil
}

func (e *Evaluator) Close() { e.pool.Close() }

var dialect = backend.Dialect{
	QuoteIdent:  pgIdent,
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	DateExpr:    func(expr string) string { return "(" + expr + ")::date" },
	// Date-only arguments arrive pre-truncated to UTC midnight; a timestamp
	// compares correctly against a ::date expression after promotion.
	TimeArg: func(t time.Time, dateOnly bool) any { return t.UTC() },
	TypeFor: func(k frame.Kind) string {
		switch k {
		case frame.Numeric:
			return "DOUBLE PRECISION"
		case frame.Date:
			return "TIMESTAMP"
		default:
			return "TEXT"
		}
	},
	SeqType:  "BIGINT",
	TextType: "TEXT",
	SampleSQL: func(relation, where string, limit int) string {
		return fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d",
			pgIdent(backend.RIDColumn), relation, where, pgIdent(backend.SeqColumn), limit,
		)
	},
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (e *Evaluator) LoadSnapshot(ctx context.Context, snap *frame.Snapshot, idColumn string) error {
	for _, ddl := range backend.CreateRelationSQL(dialect, e.relation, snap) {
		if _, err := e.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create relation %s: %w", e.relation, err)
		}
	}

	stmts, err := backend.InsertStatements(dialect, e.relation, snap, idColumn, maxBindParams)
	if err != nil {
		return err
	}
	for _, st := range stmts {
		if _, err := e.pool.Exec(ctx, st.SQL, st.Args...); err != nil {
			return fmt.Errorf("postgres: load relation %s: %w", e.relation, err)
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
	if err := e.pool.QueryRow(ctx, query, args...).Scan(scan.Dest()...); err != nil {
		return backend.Result{}, fmt.Errorf("postgres: aggregate combination %d: %w", combo.Ordinal, err)
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

	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: sample combination %d: %w", combo.Ordinal, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s *string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		} else {
			out = append(out, "")
		}
	}
	return out, rows.Err()
}
