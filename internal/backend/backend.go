// Package backend defines the evaluation contract shared by every execution
// strategy: turn one combination into a matching-row count, per-result-column
// statistics, and a bounded identifier sample.
//
// There are two families of implementation: the in-memory mask evaluator
// (backend/memory) and the query-pushdown evaluators (backend/sqlite,
// backend/postgres, backend/mssql). All of them compile condition variants
// through this package's single predicate compiler, so range inclusivity,
// date granularity and OR-group semantics cannot drift between strategies.
package backend

import (
	"context"
	"fmt"
	"sync"

	"thresher/internal/combination"
	"thresher/internal/frame"
)

// DefaultSampleLimit bounds the identifier sample attached to each result.
const DefaultSampleLimit = 20

// Request carries the per-run evaluation parameters that do not vary between
// combinations.
type Request struct {
	// IDColumn names the identifier column sampled into each result.
	IDColumn string

	// ResultColumns are the numeric columns to compute statistics for.
	ResultColumns []string

	// SampleLimit caps the identifier sample; 0 means DefaultSampleLimit.
	SampleLimit int
}

func (r Request) sampleLimit() int {
	if r.SampleLimit <= 0 {
		return DefaultSampleLimit
	}
	return r.SampleLimit
}

// SampleLimitOrDefault resolves the effective identifier-sample cap.
func (r Request) SampleLimitOrDefault() int { return r.sampleLimit() }

// ColumnStats are the aggregate statistics of one result column restricted to
// the matching rows, nulls excluded. Values are unrounded; presentation-level
// rounding happens in the aggregator.
type ColumnStats struct {
	Count  int
	Mean   float64
	Sum    float64
	Min    float64
	Max    float64
	Median float64

	// StdDev is the sample standard deviation; HasStdDev is false when fewer
	// than two non-null values match.
	StdDev    float64
	HasStdDev bool

	// MaxRun is the longest streak of consecutive equal values in original
	// row order, nulls dropped from the series entirely.
	MaxRun int
}

// Result is one combination's evaluation outcome. Stats only carries entries
// for result columns with at least one non-null matching value; everything
// else is silently omitted.
type Result struct {
	MatchingRows int
	Stats        map[string]ColumnStats

	// SampleIDs holds up to the sample limit of identifiers in original row
	// order; SampleOverflow counts the matching rows beyond the sample.
	SampleIDs      []string
	SampleOverflow int
}

// Evaluator executes combinations against a data source.
//
// Implementations must be safe for concurrent Evaluate calls: combinations are
// independent and read-only with respect to the data.
type Evaluator interface {
	Evaluate(ctx context.Context, combo combination.Combination, req Request) (Result, error)

	// Close releases backend resources. Call once when the run is done.
	Close()
}

// RelationLoader is implemented by query-pushdown evaluators that can
// materialize a snapshot as their named relation before a run. The identifier
// column's raw text is stored alongside the typed data so identifier samples
// match the in-memory backend exactly.
type RelationLoader interface {
	LoadSnapshot(ctx context.Context, snap *frame.Snapshot, idColumn string) error
}

// Config selects and parameterizes a query-pushdown evaluator.
type Config struct {
	// Kind matches a registered backend kind (e.g. "sqlite", "postgres").
	Kind string

	// DSN is passed through to the backend factory.
	DSN string

	// Relation is the table holding (or about to hold) the snapshot.
	Relation string
}

type factory func(ctx context.Context, cfg Config) (Evaluator, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers an evaluator factory under a kind. Backend packages call
// this from init(); registering the same kind twice panics to fail fast on
// ambiguous wiring.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("backend: Register called with empty kind")
	}
	if f == nil {
		panic("backend: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("backend: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs an evaluator for the configured kind.
func New(ctx context.Context, cfg Config) (Evaluator, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("backend: missing kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("backend: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
