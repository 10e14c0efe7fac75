// Package ingest turns external tabular sources (CSV files, HTML tables)
// into typed snapshots. Column kinds may be declared by the caller; anything
// undeclared is inferred from the data.
package ingest

import (
	"fmt"
	"strings"

	"thresher/internal/frame"
	"thresher/internal/metrics"
)

// normalizeHeader canonicalizes a source column name: trimmed, lowercased,
// spaces replaced with underscores. A header map entry overrides the
// canonical form entirely.
func normalizeHeader(h string, first bool, headerMap map[string]string) string {
	h = strings.TrimSpace(h)
	if first {
		h = strings.TrimPrefix(h, "\uFEFF")
	}
	if mapped, ok := headerMap[h]; ok {
		return mapped
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// buildSnapshot types each column (declared kind wins, otherwise inferred)
// and assembles the snapshot. columns holds cell text per header, row-aligned.
func buildSnapshot(headers []string, columns [][]string, declared map[string]frame.Kind) (*frame.Snapshot, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("ingest: no columns in source")
	}
	if len(headers) != len(columns) {
		return nil, fmt.Errorf("ingest: %d headers for %d columns", len(headers), len(columns))
	}

	built := make([]frame.Column, 0, len(headers))
	for i, name := range headers {
		kind, ok := declared[name]
		if !ok {
			kind = frame.InferKind(columns[i])
		}
		c, err := frame.BuildColumn(name, kind, columns[i])
		if err != nil {
			return nil, err
		}
		built = append(built, c)
	}

	snap, err := frame.New(built)
	if err != nil {
		return nil, err
	}
	metrics.IncCounter("ingest.rows.total", float64(snap.NumRows()), nil)
	return snap, nil
}
