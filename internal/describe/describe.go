// Package describe renders condition variants as short human-readable labels.
//
// Labels derive only from the variant's structured fields. They are never
// reconstructed from backend query text, so every evaluation backend reports
// the same description for the same variant.
package describe

import (
	"fmt"
	"strings"

	"thresher/internal/threshold"
)

const dateLayout = "2006-01-02"

// Variant renders one condition variant.
func Variant(v threshold.Variant) string {
	switch v.Op {
	case threshold.OpGE:
		return fmt.Sprintf("%s >= %.2f", v.Column, v.Value)
	case threshold.OpGT:
		return fmt.Sprintf("%s > %.2f", v.Column, v.Value)
	case threshold.OpLT:
		return fmt.Sprintf("%s < %.2f", v.Column, v.Value)
	case threshold.OpLE:
		return fmt.Sprintf("%s <= %.2f", v.Column, v.Value)

	case threshold.OpRange:
		bracket := ")"
		if v.LastRange {
			bracket = "]"
		}
		return fmt.Sprintf("%s: [%.2f to %.2f%s", v.Column, v.Lo, v.Hi, bracket)

	case threshold.OpOr:
		parts := make([]string, len(v.Sub))
		for i, sub := range v.Sub {
			parts[i] = Variant(sub)
		}
		return "(" + strings.Join(parts, " OR ") + ")"

	case threshold.OpIn:
		return inLabel(v)

	case threshold.OpDateRange:
		return fmt.Sprintf("%s: %s to %s", v.Column, v.TimeLo.Format(dateLayout), v.TimeHi.Format(dateLayout))
	case threshold.OpBefore:
		return fmt.Sprintf("%s before %s", v.Column, v.Time.Format(dateLayout))
	case threshold.OpAfter:
		return fmt.Sprintf("%s after %s", v.Column, v.Time.Format(dateLayout))
	case threshold.OpOn:
		return fmt.Sprintf("%s on %s", v.Column, v.Time.Format(dateLayout))
	case threshold.OpSince:
		return fmt.Sprintf("%s last %d days (from %s)", v.Column, v.Days, v.Time.Format(dateLayout))
	case threshold.OpUntil:
		return fmt.Sprintf("%s first %d days (until %s)", v.Column, v.Days, v.Time.Format(dateLayout))

	default:
		return fmt.Sprintf("%s: unknown condition", v.Column)
	}
}

// inLabel renders set membership: a single value as equality, up to three
// values in full, larger sets truncated with a count suffix.
func inLabel(v threshold.Variant) string {
	switch {
	case len(v.Set) == 1:
		return fmt.Sprintf("%s = %s", v.Column, v.Set[0])
	case len(v.Set) <= 3:
		return fmt.Sprintf("%s in [%s]", v.Column, strings.Join(v.Set, ", "))
	default:
		return fmt.Sprintf("%s in [%s...] (%d values)", v.Column, strings.Join(v.Set[:3], ", "), len(v.Set))
	}
}
