package combination

import (
	"errors"
	"strings"
	"testing"

	"thresher/internal/frame"
	"thresher/internal/threshold"
)

func numVariant(col string, value float64) threshold.Variant {
	return threshold.Variant{Column: col, Kind: frame.Numeric, Op: threshold.OpGE, Value: value}
}

func makeSets(counts map[string]int, order []string) []threshold.VariantSet {
	out := make([]threshold.VariantSet, 0, len(order))
	for _, col := range order {
		s := threshold.VariantSet{Column: col}
		for i := 0; i < counts[col]; i++ {
			s.Variants = append(s.Variants, numVariant(col, float64(i)))
		}
		out = append(out, s)
	}
	return out
}

func collect(t *testing.T, sets []threshold.VariantSet) []Combination {
	t.Helper()
	var out []Combination
	if err := Enumerate(sets, func(c Combination) error {
		out = append(out, c)
		return nil
	}); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	return out
}

// signature renders a combination as "a0|b2" for order assertions.
func signature(c Combination) string {
	parts := make([]string, len(c.Conditions))
	for i, v := range c.Conditions {
		parts[i] = v.Column + string(rune('0'+int(v.Value)))
	}
	return strings.Join(parts, "|")
}

func TestEnumerate_CountMatchesClosedForm(t *testing.T) {
	sets := makeSets(map[string]int{"a": 2, "b": 3}, []string{"a", "b"})

	combos := collect(t, sets)
	if len(combos) != 11 { // 2 + 3 + 6
		t.Fatalf("got %d combinations, want 11", len(combos))
	}
	if got := Count(sets); got != 11 {
		t.Fatalf("Count = %d, want 11", got)
	}
}

func TestEnumerate_CanonicalOrder(t *testing.T) {
	sets := makeSets(map[string]int{"a": 2, "b": 2, "c": 1}, []string{"a", "b", "c"})
	combos := collect(t, sets)

	want := []string{
		// size 1, subsets {a}, {b}, {c}
		"a0", "a1", "b0", "b1", "c0",
		// size 2, subsets {a,b}, {a,c}, {b,c}
		"a0|b0", "a0|b1", "a1|b0", "a1|b1",
		"a0|c0", "a1|c0",
		"b0|c0", "b1|c0",
		// size 3
		"a0|b0|c0", "a0|b1|c0", "a1|b0|c0", "a1|b1|c0",
	}
	if len(combos) != len(want) {
		t.Fatalf("got %d combinations, want %d", len(combos), len(want))
	}
	for i, c := range combos {
		if c.Ordinal != i {
			t.Fatalf("combination %d has ordinal %d", i, c.Ordinal)
		}
		if got := signature(c); got != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, got, want[i])
		}
	}
}

func TestEnumerate_Deterministic(t *testing.T) {
	sets := makeSets(map[string]int{"a": 3, "b": 2}, []string{"a", "b"})

	first := collect(t, sets)
	second := collect(t, sets)
	for i := range first {
		if signature(first[i]) != signature(second[i]) {
			t.Fatalf("run order diverged at position %d", i)
		}
	}
}

func TestEnumerate_EmitErrorStops(t *testing.T) {
	sets := makeSets(map[string]int{"a": 5}, []string{"a"})

	sentinel := errors.New("stop")
	seen := 0
	err := Enumerate(sets, func(Combination) error {
		seen++
		if seen == 2 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if seen != 2 {
		t.Fatalf("emitted %d combinations after stop, want 2", seen)
	}
}

func TestEnumerate_EmptyVariantSetIsError(t *testing.T) {
	sets := []threshold.VariantSet{{Column: "a"}}
	if err := Enumerate(sets, func(Combination) error { return nil }); err == nil {
		t.Fatal("expected error for empty variant set")
	}
}
