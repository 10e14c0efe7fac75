package frame

import (
	"strconv"
	"strings"
)

// inferSampleMax bounds how many non-empty cells InferKind examines.
// Enough to be representative, cheap enough to run per column on ingest.
const inferSampleMax = 1000

// InferKind resolves a column's kind from its raw cells.
//
// Rules:
//   - numeric when at least 80% of the sampled non-empty cells parse as floats
//   - otherwise date when at least half of the sample parses with the fixed
//     layout set
//   - otherwise categorical
//
// A column with no non-empty cells is categorical: there is nothing to
// partition, and categorical is the only kind that never mis-renders.
func InferKind(cells []string) Kind {
	var sampled, numeric, dated int

	// Cells are trimmed before sampling; whitespace-only cells become nulls in
	// BuildColumn and must not count against the numeric ratio here either.
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		sampled++

		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			numeric++
		} else if _, err := ParseTime(cell); err == nil {
			dated++
		}

		if sampled >= inferSampleMax {
			break
		}
	}

	if sampled == 0 {
		return Categorical
	}
	if numeric*5 >= sampled*4 {
		return Numeric
	}
	if dated*2 >= sampled {
		return Date
	}
	return Categorical
}
