package threshold

import (
	"fmt"
	"math"
	"strings"
)

// DefaultCombinationCap bounds the total number of combinations a single run
// may enumerate and evaluate.
const DefaultCombinationCap = 10000

// maxVariantFloor / maxVariantCeil clamp the per-column variant guidance.
const (
	maxVariantFloor = 2
	maxVariantCeil  = 1000
)

// MaxVariantsForColumn computes how many variants a column about to be
// configured may offer, given the combination cap and the variant counts of
// the other selected columns.
//
// Columns whose counts are not yet known are assumed to contribute 3 variants
// each; known counts are floored at 2. With zero selected columns there is
// nothing to bound yet and a generous default of 100 is returned.
//
// This bounds only a single full combination (all selected columns
// conditioned); the run-level estimate over all column subsets is enforced
// separately by EstimateTotal.
func MaxVariantsForColumn(cap, selectedCount int, otherCounts map[string]int) int {
	if cap <= 0 {
		cap = DefaultCombinationCap
	}
	if selectedCount == 0 {
		return 100
	}

	product := 1
	if len(otherCounts) > 0 {
		for _, n := range otherCounts {
			if n < 2 {
				n = 2
			}
			product *= n
		}
	} else {
		for i := 0; i < selectedCount-1; i++ {
			product *= 3
		}
	}

	maxVariants := cap / product
	if maxVariants < maxVariantFloor {
		return maxVariantFloor
	}
	if maxVariants > maxVariantCeil {
		return maxVariantCeil
	}
	return maxVariants
}

// ColumnCount is one column's contribution to a budget estimate.
type ColumnCount struct {
	Column   string
	Variants int
}

// EstimateTotal computes the exact number of combinations a run will
// enumerate: the sum over every non-empty column subset of the product of the
// member columns' variant counts. That sum has the closed form
// prod(count_i + 1) - 1. The running product saturates at math.MaxInt instead
// of wrapping, so enough high-cardinality columns cannot overflow past the
// budget check.
func EstimateTotal(counts []ColumnCount) int {
	total := 1
	for _, c := range counts {
		factor := c.Variants + 1
		if factor < 1 {
			factor = 1
		}
		if total > math.MaxInt/factor {
			return math.MaxInt
		}
		total *= factor
	}
	return total - 1
}

// BudgetError reports that a run's estimated combination count exceeds the
// cap. The run refuses to start; callers get the exact estimate and the
// per-column variant breakdown.
type BudgetError struct {
	Cap       int
	Estimated int
	Breakdown []ColumnCount
}

func (e *BudgetError) Error() string {
	parts := make([]string, 0, len(e.Breakdown))
	for _, c := range e.Breakdown {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Column, c.Variants))
	}
	return fmt.Sprintf(
		"estimated %d combinations exceeds cap %d (per-column variants: %s)",
		e.Estimated, e.Cap, strings.Join(parts, " "),
	)
}

// CheckBudget returns a *BudgetError when the estimated total exceeds cap.
func CheckBudget(cap int, counts []ColumnCount) error {
	if cap <= 0 {
		cap = DefaultCombinationCap
	}
	est := EstimateTotal(counts)
	if est > cap {
		return &BudgetError{Cap: cap, Estimated: est, Breakdown: append([]ColumnCount(nil), counts...)}
	}
	return nil
}
