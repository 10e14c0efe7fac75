// Package combination enumerates every evaluable filter combination: each
// non-empty subset of the selected columns crossed with each choice of one
// condition variant per subset member.
//
// Enumeration order is part of the engine's contract. Results are cached and
// exported by position, so two runs over the same configuration must emit
// combinations in exactly the same order. Subsets go by increasing size, then
// lexicographic index order over the selected-column slice; within a subset the
// variant odometer ticks with the rightmost column fastest.
package combination

import (
	"fmt"

	"thresher/internal/threshold"
)

// Combination is one fully specified filter instantiation: a non-empty column
// subset with exactly one variant chosen per member. Columns outside the
// subset are unconditioned (full scope).
type Combination struct {
	// Ordinal is the position in canonical enumeration order, starting at 0.
	Ordinal int

	// Conditions holds one variant per conditioned column, in subset order.
	Conditions []threshold.Variant
}

// Count returns the exact number of combinations Enumerate will emit.
func Count(sets []threshold.VariantSet) int {
	counts := make([]threshold.ColumnCount, len(sets))
	for i, s := range sets {
		counts[i] = threshold.ColumnCount{Column: s.Column, Variants: len(s.Variants)}
	}
	return threshold.EstimateTotal(counts)
}

// Enumerate emits every combination in canonical order. Returning an error
// from emit stops enumeration and propagates the error, which is how callers
// implement cooperative cancellation between combinations.
func Enumerate(sets []threshold.VariantSet, emit func(Combination) error) error {
	for _, s := range sets {
		if len(s.Variants) == 0 {
			return fmt.Errorf("combination: column %q has no variants", s.Column)
		}
	}

	ordinal := 0
	n := len(sets)

	for size := 1; size <= n; size++ {
		subset := firstSubset(size)
		for subset != nil {
			if err := emitProducts(sets, subset, &ordinal, emit); err != nil {
				return err
			}
			subset = nextSubset(subset, n)
		}
	}
	return nil
}

// emitProducts walks the variant Cartesian product for one column subset,
// rightmost column fastest.
func emitProducts(sets []threshold.VariantSet, subset []int, ordinal *int, emit func(Combination) error) error {
	odometer := make([]int, len(subset))

	for {
		conds := make([]threshold.Variant, len(subset))
		for i, colIdx := range subset {
			conds[i] = sets[colIdx].Variants[odometer[i]]
		}
		if err := emit(Combination{Ordinal: *ordinal, Conditions: conds}); err != nil {
			return err
		}
		*ordinal++

		// Tick the odometer.
		i := len(odometer) - 1
		for ; i >= 0; i-- {
			odometer[i]++
			if odometer[i] < len(sets[subset[i]].Variants) {
				break
			}
			odometer[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}

func firstSubset(size int) []int {
	s := make([]int, size)
	for i := range s {
		s[i] = i
	}
	return s
}

// nextSubset advances a k-subset of {0..n-1} in lexicographic order, returning
// nil after the last one. The input slice is reused.
func nextSubset(s []int, n int) []int {
	k := len(s)
	i := k - 1
	for i >= 0 && s[i] == n-k+i {
		i--
	}
	if i < 0 {
		return nil
	}
	s[i]++
	for j := i + 1; j < k; j++ {
		s[j] = s[j-1] + 1
	}
	return s
}
